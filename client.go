package hsmclient

import (
	"bytes"
	"context"
	"fmt"

	"github.com/R3E-Network/hsmclient/config"
	hsmerrors "github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/hotp"
	"github.com/R3E-Network/hsmclient/internal/nonce"
	"github.com/R3E-Network/hsmclient/logging"
	"github.com/R3E-Network/hsmclient/provision"
	"github.com/R3E-Network/hsmclient/transport"
	"github.com/R3E-Network/hsmclient/wire/processdata"
)

// Client is the library's entry point: one Configuration, one HTTP
// connector, one retrying provisioning orchestrator, shared across every
// UO the caller invokes — mirroring globalsigner/client.Client's single
// Client-per-service-connection shape.
type Client struct {
	transport    *transport.Client
	orchestrator *provision.Orchestrator
	cfg          config.Configuration
	log          *logging.Logger
}

// New builds a Client from a caller-owned Configuration (spec.md §3). cfg
// is cloned so later mutation by the caller has no effect, matching
// Configuration's "never mutated" lifecycle. A nil log discards output.
func New(cfg config.Configuration, log *logging.Logger) *Client {
	cfg = cfg.Clone()
	if log == nil {
		log = logging.Nop()
	}
	t := transport.NewClient(cfg, log)
	return &Client{
		transport:    t,
		orchestrator: provision.NewOrchestrator(t, cfg, log),
		cfg:          cfg,
		log:          log,
	}
}

// resolveOverride folds a UO's own endpoint/apiKey into override wherever
// the caller left those fields unset, compensating for transport.Client's
// typed calls always passing empty strings for the UO layer of
// transport.EffectiveRequest's four-layer precedence — so the precedence
// documented in spec.md §3 (override > UO > Configuration > default) still
// holds end to end once a call reaches the transport package.
func resolveOverride(uo *UO, override transport.Override) transport.Override {
	if uo == nil {
		return override
	}
	if override.Endpoint == "" {
		override.Endpoint = uo.Endpoint
	}
	if override.APIKey == "" {
		override.APIKey = uo.APIKey
	}
	return override
}

func freshHexNonce() (string, []byte, error) {
	n, err := nonce.Generate()
	if err != nil {
		return "", nil, err
	}
	return nonce.EncodeHex(n), n, nil
}

// ProcessDataInput carries the fields a caller chooses per invocation; the
// transport keys come from uo, never from here.
type ProcessDataInput struct {
	ReqType        processdata.RequestType
	PlainData      []byte
	UserData       []byte
	FreshnessNonce []byte // optional; random if nil
}

// ProcessData invokes uo (spec.md §2's "invoke a UO" operation): builds the
// wire frame under uo's keys, sends it, and parses the reply, rejecting a
// response whose echoed UOid or demangled nonce doesn't correlate with the
// request — spec.md §4.F's "respNonce MUST equal the request's
// freshnessNonce" invariant, which the wire codec alone cannot enforce
// since wire/processdata.Parse never sees the nonce that was sent.
func (c *Client) ProcessData(ctx context.Context, uo *UO, in ProcessDataInput, override transport.Override) (*processdata.Response, error) {
	if uo == nil {
		return nil, hsmerrors.InvalidArgument("hsmclient: ProcessData requires a UO")
	}

	built, err := processdata.Build(processdata.BuildInput{
		UOID:           uo.UOID,
		EncKey:         uo.EncKey,
		MacKey:         uo.MacKey,
		ReqType:        in.ReqType,
		PlainData:      in.PlainData,
		UserData:       in.UserData,
		FreshnessNonce: in.FreshnessNonce,
	})
	if err != nil {
		return nil, err
	}

	urlNonceHex, _, err := freshHexNonce()
	if err != nil {
		return nil, err
	}

	raw, err := c.transport.ProcessData(ctx, uo.Handle(), built.Wire, urlNonceHex, resolveOverride(uo, override), transport.Hooks{})
	if err != nil {
		return nil, err
	}

	resp, err := processdata.Parse(raw, uo.EncKey, uo.MacKey)
	if err != nil {
		return nil, err
	}

	if resp.EchoedUOID != uo.UOID {
		return nil, hsmerrors.New(hsmerrors.Corrupt, "processdata: echoed UOid does not match request")
	}
	if !bytes.Equal(resp.RespNonce, built.FreshnessNonce) {
		return nil, hsmerrors.New(hsmerrors.Corrupt, "processdata: response nonce does not correlate with request")
	}

	return resp, nil
}

// Encrypt invokes uo with reqType PLAINAES, returning the HSM's protected
// reply (spec.md glossary's AES-encrypt operation).
func (c *Client) Encrypt(ctx context.Context, uo *UO, plaintext []byte, override transport.Override) (*processdata.Response, error) {
	return c.ProcessData(ctx, uo, ProcessDataInput{ReqType: processdata.PlainAES, UserData: plaintext}, override)
}

// Decrypt invokes uo with reqType PLAINAESDECRYPT.
func (c *Client) Decrypt(ctx context.Context, uo *UO, ciphertext []byte, override transport.Override) (*processdata.Response, error) {
	return c.ProcessData(ctx, uo, ProcessDataInput{ReqType: processdata.PlainAESDecrypt, UserData: ciphertext}, override)
}

// NewAuthContext builds the [A3‖A8] payload buildNewContext produces from
// raw application context bytes (spec.md §4.H/§4.I — the hotp package's
// BuildNewContext). It performs no network call: the resulting bytes are
// the caller's first buildAuth/buildUpdate UserData, and rawContext itself
// becomes the initial userCtx for that call.
func (c *Client) NewAuthContext(rawContext []byte) ([]byte, error) {
	return hotp.BuildNewContext(hotp.NewContextOptions{Context: rawContext})
}

// Authenticate drives one HOTP or password auth round trip (spec.md
// §4.H's state machine): builds the buildAuth payload, sends it through
// ProcessData under uo, and feeds the protected reply into session.Receive.
// AuthFailed is returned as a non-nil *hotp.AuthResponse alongside a nil
// error — its UserCtx MUST still be persisted, per the session's contract.
func (c *Client) Authenticate(ctx context.Context, uo *UO, session *hotp.Session, userID, code, userCtx []byte, op hotp.BuildAuthOp, reqType processdata.RequestType, override transport.Override) (*hotp.AuthResponse, error) {
	payload, err := hotp.BuildAuth(userID, code, userCtx, op)
	if err != nil {
		return nil, err
	}
	if err := session.Send(byte(op)); err != nil {
		return nil, err
	}

	resp, err := c.ProcessData(ctx, uo, ProcessDataInput{ReqType: reqType, UserData: payload}, override)
	if err != nil {
		return nil, err
	}

	return session.Receive(resp.ProtectedData)
}

// UpdateMethod drives a buildUpdate round trip, replacing the stored HOTP
// seed, password, or tries-limit method record for userID.
func (c *Client) UpdateMethod(ctx context.Context, uo *UO, session *hotp.Session, userID, userCtx []byte, record hotp.MethodRecord, reqType processdata.RequestType, override transport.Override) (*hotp.AuthResponse, error) {
	payload, err := hotp.BuildUpdate(userID, userCtx, record)
	if err != nil {
		return nil, err
	}
	if err := session.Send(hotp.TagUpdate); err != nil {
		return nil, err
	}

	resp, err := c.ProcessData(ctx, uo, ProcessDataInput{ReqType: reqType, UserData: payload}, override)
	if err != nil {
		return nil, err
	}

	return session.Receive(resp.ProtectedData)
}

// ProvisionRequest bundles a new UO's inputs (spec.md §4.J).
type ProvisionRequest struct {
	APIKey          string
	TemplateRequest config.TemplateRequest
	Keys            provision.CallerKeys
	ObjectID        uint32
	Authorization   string
	Override        transport.Override
}

// Provision runs the two-stage GetUserObjectTemplate → CreateUserObject
// sequence and returns the resulting UO, ready for ProcessData calls.
func (c *Client) Provision(ctx context.Context, req ProvisionRequest) (*UO, error) {
	if req.APIKey == "" {
		return nil, hsmerrors.InvalidArgument("hsmclient: Provision requires an apiKey")
	}

	result, err := c.orchestrator.Provision(ctx, provision.Request{
		Handle:          nonce.Handle{APIKey: req.APIKey},
		TemplateRequest: req.TemplateRequest,
		Keys:            req.Keys,
		ObjectID:        req.ObjectID,
		Authorization:   req.Authorization,
		Override:        req.Override,
	})
	if err != nil {
		return nil, err
	}

	uo, err := NewUO(req.APIKey, result.Handle.UOID, result.Handle.UOType, result.CommEnc, result.CommMac, result.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("hsmclient: provisioned UO failed validation: %w", err)
	}
	return uo, nil
}
