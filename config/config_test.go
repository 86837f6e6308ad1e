package config

import "testing"

func TestCloneDeepCopiesCreateTemplate(t *testing.T) {
	orig := Configuration{
		APIKey:         "key1",
		CreateTemplate: &TemplateRequest{UOType: "comm"},
	}

	clone := orig.Clone()
	clone.CreateTemplate.UOType = "app"

	if orig.CreateTemplate.UOType != "comm" {
		t.Errorf("mutating clone's CreateTemplate leaked into original: got %q", orig.CreateTemplate.UOType)
	}
}

func TestCloneNilCreateTemplate(t *testing.T) {
	clone := Configuration{}.Clone()
	if clone.CreateTemplate != nil {
		t.Errorf("CreateTemplate = %v, want nil", clone.CreateTemplate)
	}
}

func TestEffectiveTimeoutDefault(t *testing.T) {
	cfg := Configuration{}
	if got := cfg.EffectiveTimeout(); got != DefaultTimeout {
		t.Errorf("EffectiveTimeout() = %v, want %v", got, DefaultTimeout)
	}
}

func TestEffectiveMethodDefault(t *testing.T) {
	cfg := Configuration{}
	if got := cfg.EffectiveMethod(); got != MethodPOST {
		t.Errorf("EffectiveMethod() = %v, want %v", got, MethodPOST)
	}
}

func TestEffectiveMethodExplicit(t *testing.T) {
	cfg := Configuration{HTTPMethod: MethodGET}
	if got := cfg.EffectiveMethod(); got != MethodGET {
		t.Errorf("EffectiveMethod() = %v, want %v", got, MethodGET)
	}
}
