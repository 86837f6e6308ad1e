package transport

import (
	"github.com/R3E-Network/hsmclient/config"
	"github.com/R3E-Network/hsmclient/internal/nonce"
)

// RequestBase is the shared trait every typed call composes with instead of
// inheriting (SPEC_FULL.md §4.H / REDESIGN FLAGS): the common request
// header (objectid, function, nonce, version) plus the four-layer
// precedence rule for resolving what actually gets sent.
type RequestBase struct {
	Function string
	Handle   nonce.Handle
	Nonce    string
	Version  string
}

// Header returns the {objectid, function, nonce, version} fields every HSM
// request carries, per spec.md §4.H.
func (r RequestBase) Header() map[string]string {
	return map[string]string{
		"objectid": r.Handle.String(),
		"function": r.Function,
		"nonce":    r.Nonce,
		"version":  r.Version,
	}
}

// Override carries per-call values that take precedence over everything
// else. A zero value for any field means "not overridden." The typed
// Client calls apply Endpoint and Method; the API key they send is the one
// inside the handle they are given, so APIKey only affects the apiKey that
// EffectiveRequest returns, and Timeout is not read by this package.
type Override struct {
	Endpoint string
	APIKey   string
	Method   config.HTTPMethod
	Timeout  *int64 // milliseconds; nil means unset
}

// EffectiveRequest resolves the four-layer precedence rule (SPEC_FULL.md
// §4: per-call override > UO fields > Configuration > library default):
// override, then the UO's own endpoint/apiKey, then defaultEndpoint, then
// built-in defaults. uoEndpoint and uoAPIKey are empty strings when the UO
// doesn't carry its own. defaultEndpoint is the Configuration field that
// matches the function being called — Configuration carries a distinct
// endpoint per function (EndpointProcess/EndpointEnroll/EndpointRegister),
// so callers must pass the one matching theirs rather than relying on a
// single fallback shared by every function.
func EffectiveRequest(override Override, uoEndpoint, uoAPIKey, defaultEndpoint string, cfg config.Configuration) (endpoint, apiKey string, method config.HTTPMethod) {
	endpoint = firstNonEmpty(override.Endpoint, uoEndpoint, defaultEndpoint)
	apiKey = firstNonEmpty(override.APIKey, uoAPIKey, cfg.APIKey)
	if override.Method != "" {
		method = override.Method
	} else {
		method = cfg.EffectiveMethod()
	}
	return endpoint, apiKey, method
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
