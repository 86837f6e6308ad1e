package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/hsmclient/errors"
	"github.com/R3E-Network/hsmclient/logging"
)

// Config configures a Connector. APIVersion is the path segment from
// spec.md §6 (`scheme://host:port/{apiVersion}/...`); Timeout and
// MaxBodyBytes bound the HTTP round trip the way
// infrastructure/httputil.ClientConfig does for service clients. The
// scheme/host/port themselves come from each call's endpoint (spec.md §3's
// Configuration carries one per function: process/enroll/register), so
// they are passed to Do/DoRaw rather than fixed here.
type Config struct {
	APIVersion string

	Timeout      time.Duration
	MaxBodyBytes int64
	HTTPClient   *http.Client
}

const defaultAPIVersion = "1.0"

// Connector is the HTTP transport (component G): it builds the
// handle/function/nonce URL, performs the request, and classifies failures
// into the errors package's taxonomy. It has no notion of what a function
// means — that's component H's job.
type Connector struct {
	cfg    Config
	client *http.Client
	log    *logging.Logger
}

// NewConnector builds a Connector, applying defaults the way
// infrastructure/httputil.NewClient does for zero-valued fields.
func NewConnector(cfg Config, log *logging.Logger) *Connector {
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	clientCopy := *client
	clientCopy.Timeout = timeout

	if log == nil {
		log = logging.Nop()
	}
	return &Connector{cfg: cfg, client: &clientCopy, log: log}
}

// Hooks are the callback-chain replacement described in SPEC_FULL.md §4 —
// an explicit two-stage pipeline instead of done/fail/always rebinding.
type Hooks struct {
	OnDone   func(*statusEnvelope)
	OnFail   func(error)
	OnAlways func()
}

func (h Hooks) fireDone(env *statusEnvelope) {
	if h.OnDone != nil {
		h.OnDone(env)
	}
}

func (h Hooks) fireFail(err error) {
	if h.OnFail != nil {
		h.OnFail(err)
	}
}

func (h Hooks) fireAlways() {
	if h.OnAlways != nil {
		h.OnAlways()
	}
}

// buildURL assembles the path layout from spec.md §4.G / §6:
//
//	POST: {baseURL}/{apiVersion}/{handle}/{function}/{nonce}
//	GET:  same path plus a trailing /{extraSegment}
//
// baseURL already carries scheme://host:port (Configuration's per-function
// endpoint, spec.md §3).
func (c *Connector) buildURL(baseURL, handle, function, nonce, extraSegment string) string {
	u := fmt.Sprintf("%s/%s/%s/%s/%s", strings.TrimRight(baseURL, "/"), c.cfg.APIVersion, handle, function, nonce)
	if extraSegment != "" {
		u = u + "/" + extraSegment
	}
	return u
}

// Do sends a single HSM call and returns the decoded envelope. method is
// "GET" or "POST"; body is marshalled as the JSON POST body (ProcessData
// calls wrap it as {"data": ...} at the caller's layer — Do is agnostic to
// that shape) or, for GET, marshalled and appended as the trailing path
// segment per spec.md §4.G. Content-Type is deliberately left unset on
// POST requests to avoid a CORS preflight, matching the source protocol.
func (c *Connector) Do(ctx context.Context, baseURL, method, handle, function, nonce string, body interface{}, hooks Hooks) (*statusEnvelope, error) {
	raw, elapsed, err := c.doRaw(ctx, baseURL, method, handle, function, nonce, body)
	if err != nil {
		c.logResult(function, method, elapsed, "", err)
		hooks.fireFail(err)
		hooks.fireAlways()
		return nil, err
	}

	var env statusEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		err = errors.ParseFailure(fmt.Errorf("decode envelope: %w", err))
		c.logResult(function, method, elapsed, "", err)
		hooks.fireFail(err)
		hooks.fireAlways()
		return nil, err
	}

	c.logResult(function, method, elapsed, env.Status, nil)
	hooks.fireDone(&env)
	hooks.fireAlways()
	return &env, nil
}

// DoRaw sends a single HSM call and returns the raw JSON response body
// undecoded — used for ProcessData, whose envelope has its own parser
// (wire/processdata.Parse) with MAC-before-decrypt semantics this package
// must not duplicate.
func (c *Connector) DoRaw(ctx context.Context, baseURL, method, handle, function, nonce string, body interface{}, hooks Hooks) ([]byte, error) {
	raw, elapsed, err := c.doRaw(ctx, baseURL, method, handle, function, nonce, body)
	if err != nil {
		c.logResult(function, method, elapsed, "", err)
		hooks.fireFail(err)
		hooks.fireAlways()
		return nil, err
	}
	c.logResult(function, method, elapsed, "", nil)
	hooks.fireDone(nil)
	hooks.fireAlways()
	return raw, nil
}

func (c *Connector) logResult(function, method string, elapsed time.Duration, status string, err error) {
	fields := map[string]interface{}{
		"function": function,
		"method":   method,
		"elapsed":  elapsed.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		c.log.WithFields(fields).Warn("hsm request failed")
		return
	}
	if status != "" {
		fields["status"] = status
	}
	c.log.WithFields(fields).Debug("hsm request completed")
}

func (c *Connector) doRaw(ctx context.Context, baseURL, method, handle, function, nonce string, body interface{}) ([]byte, time.Duration, error) {
	start := time.Now()
	raw, err := c.do(ctx, baseURL, method, handle, function, nonce, body)
	return raw, time.Since(start), err
}

func (c *Connector) do(ctx context.Context, baseURL, method, handle, function, nonce string, body interface{}) ([]byte, error) {
	var (
		reqURL  string
		reqBody []byte
		err     error
	)

	switch strings.ToUpper(method) {
	case "POST":
		reqURL = c.buildURL(baseURL, handle, function, nonce, "")
		if body != nil {
			reqBody, err = json.Marshal(body)
			if err != nil {
				return nil, errors.InvalidArgument(fmt.Sprintf("marshal request body: %v", err))
			}
		}
	case "GET":
		var segment string
		if body != nil {
			encoded, mErr := json.Marshal(body)
			if mErr != nil {
				return nil, errors.InvalidArgument(fmt.Sprintf("marshal request body: %v", mErr))
			}
			segment = string(encoded)
		}
		reqURL = c.buildURL(baseURL, handle, function, nonce, segment)
	default:
		return nil, errors.InvalidArgument(fmt.Sprintf("unsupported HTTP method %q", method))
	}

	var bodyReader *bytes.Reader
	if reqBody != nil {
		bodyReader = bytes.NewReader(reqBody)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), reqURL, bodyReader)
	if err != nil {
		return nil, errors.ConnectionFailure(fmt.Errorf("build request: %w", err))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.ConnectionFailure(err)
	}
	defer resp.Body.Close()

	respBody, err := readAllStrict(resp.Body, c.cfg.MaxBodyBytes)
	if err != nil {
		return nil, errors.ConnectionFailure(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		return nil, errors.ConnectionFailure(fmt.Errorf("unexpected HTTP status %s: %s", resp.Status, msg))
	}

	return respBody, nil
}
