package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/R3E-Network/hsmclient/config"
	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/internal/nonce"
	"github.com/R3E-Network/hsmclient/logging"
)

// Client groups the typed calls to the four HSM endpoints (spec.md §6) over
// a single Connector, the way globalsigner/client.Client groups Sign,
// Derive, GetAttestation and ListKeys over one HTTP client.
type Client struct {
	connector *Connector
	cfg       config.Configuration
}

// NewClient builds a Client from a library Configuration.
func NewClient(cfg config.Configuration, log *logging.Logger) *Client {
	connector := NewConnector(Config{
		Timeout: cfg.EffectiveTimeout(),
	}, log)
	return &Client{connector: connector, cfg: cfg}
}

// ProcessData sends a pre-built ProcessData wire frame and returns the raw
// JSON response body, leaving MAC verification and decryption to
// wire/processdata.Parse — this package never touches transport keys.
func (c *Client) ProcessData(ctx context.Context, handle nonce.Handle, wireData, nonceHex string, override Override, hooks Hooks) ([]byte, error) {
	endpoint, _, method := EffectiveRequest(override, "", "", c.cfg.EndpointProcess, c.cfg)
	if endpoint == "" {
		return nil, hsmerrors.InvalidArgument("transport: no endpoint configured for ProcessData")
	}

	body := map[string]string{"data": wireData}
	return c.connector.DoRaw(ctx, endpoint, string(method), handle.String(), "ProcessData", nonceHex, body, hooks)
}

// GetImportPublicKey fetches the HSM's published RSA import keys
// (spec.md §6). The provisioning filler does not call it: it wraps the
// transport keys under the import keys listed in the template.
func (c *Client) GetImportPublicKey(ctx context.Context, handle nonce.Handle, nonceHex string, override Override, hooks Hooks) ([]ImportKey, error) {
	endpoint, _, method := EffectiveRequest(override, "", "", c.cfg.EndpointEnroll, c.cfg)
	if endpoint == "" {
		return nil, hsmerrors.InvalidArgument("transport: no endpoint configured for GetImportPublicKey")
	}

	env, err := c.connector.Do(ctx, endpoint, string(method), handle.String(), "GetImportPublicKey", nonceHex, nil, hooks)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(env); err != nil {
		return nil, err
	}

	var keys []ImportKey
	if err := json.Unmarshal(env.Result, &keys); err != nil {
		return nil, hsmerrors.ParseFailure(fmt.Errorf("decode GetImportPublicKey result: %w", err))
	}
	return keys, nil
}

// GetUserObjectTemplate fetches the template used to provision a new UO.
func (c *Client) GetUserObjectTemplate(ctx context.Context, handle nonce.Handle, nonceHex string, req config.TemplateRequest, override Override, hooks Hooks) (*Template, error) {
	endpoint, _, method := EffectiveRequest(override, "", "", c.cfg.EndpointEnroll, c.cfg)
	if endpoint == "" {
		return nil, hsmerrors.InvalidArgument("transport: no endpoint configured for GetUserObjectTemplate")
	}

	env, err := c.connector.Do(ctx, endpoint, string(method), handle.String(), "GetUserObjectTemplate", nonceHex, req, hooks)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(env); err != nil {
		return nil, err
	}

	var tpl Template
	if err := json.Unmarshal(env.Result, &tpl); err != nil {
		return nil, hsmerrors.ParseFailure(fmt.Errorf("decode GetUserObjectTemplate result: %w", err))
	}
	return &tpl, nil
}

// CreateUserObject uploads a filled, wrapped template blob and returns the
// new UO's handle.
func (c *Client) CreateUserObject(ctx context.Context, handle nonce.Handle, nonceHex string, req CreateUserObjectRequest, override Override, hooks Hooks) (*CreateUserObjectResponse, error) {
	endpoint, _, method := EffectiveRequest(override, "", "", c.cfg.EndpointRegister, c.cfg)
	if endpoint == "" {
		return nil, hsmerrors.InvalidArgument("transport: no endpoint configured for CreateUserObject")
	}

	env, err := c.connector.Do(ctx, endpoint, string(method), handle.String(), "CreateUserObject", nonceHex, req, hooks)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(env); err != nil {
		return nil, err
	}

	var result CreateUserObjectResponse
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, hsmerrors.ParseFailure(fmt.Errorf("decode CreateUserObject result: %w", err))
	}
	return &result, nil
}

func checkStatus(env *statusEnvelope) error {
	code, err := strconv.ParseUint(strings.TrimSpace(env.Status), 16, 32)
	if err != nil {
		return hsmerrors.ParseFailure(fmt.Errorf("malformed status %q: %w", env.Status, err))
	}
	if uint32(code) != 0x9000 {
		return hsmerrors.HSMResponseFailed(uint32(code), env.StatusDetail)
	}
	return nil
}
