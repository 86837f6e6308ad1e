// Package config holds the caller-constructed Configuration (spec.md §3)
// and the precedence rules requests apply when absorbing it.
package config

import (
	"time"

	"github.com/R3E-Network/hsmclient/retry"
)

// HTTPMethod selects the transport's request style for a given endpoint.
type HTTPMethod string

const (
	MethodGET  HTTPMethod = "GET"
	MethodPOST HTTPMethod = "POST"
)

// TemplateRequest is the verbatim body sent to GetUserObjectTemplate.
type TemplateRequest struct {
	UOType         string                 `json:"uotype"`
	ApplicationKey bool                   `json:"applicationkey,omitempty"`
	BillingKey     bool                   `json:"billingkey,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty"`
}

// Configuration is constructed by the caller, cloned into each request, and
// never mutated by the library (spec.md §3).
type Configuration struct {
	EndpointProcess  string
	EndpointEnroll   string
	EndpointRegister string
	APIKey           string
	HTTPMethod       HTTPMethod
	Timeout          time.Duration
	RetryPolicy      retry.Config
	CreateTemplate   *TemplateRequest
}

// DefaultTimeout is used when Configuration.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Clone returns a value copy of cfg — Configuration is never shared by
// pointer into requests, matching spec.md §3's "never mutated" lifecycle.
func (cfg Configuration) Clone() Configuration {
	clone := cfg
	if cfg.CreateTemplate != nil {
		t := *cfg.CreateTemplate
		clone.CreateTemplate = &t
	}
	return clone
}

// EffectiveTimeout returns cfg.Timeout, or DefaultTimeout if unset.
func (cfg Configuration) EffectiveTimeout() time.Duration {
	if cfg.Timeout <= 0 {
		return DefaultTimeout
	}
	return cfg.Timeout
}

// EffectiveMethod returns cfg.HTTPMethod, or MethodPOST if unset.
func (cfg Configuration) EffectiveMethod() HTTPMethod {
	if cfg.HTTPMethod == "" {
		return MethodPOST
	}
	return cfg.HTTPMethod
}
