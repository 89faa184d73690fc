package agent

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestProviderRegistry(t *testing.T) {
	r := NewProviderRegistry()
	var got ProviderSettings
	factory := func(s ProviderSettings) (Provider, error) {
		got = s
		return &scriptedProvider{config: ModelConfig{Model: s.Model, ContextLimit: s.ContextLimit}}, nil
	}

	if err := r.Register(" Scripted ", factory); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("scripted", factory); err == nil {
		t.Error("duplicate registration accepted")
	}
	if err := r.Register("", factory); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register("nilfactory", nil); err == nil {
		t.Error("nil factory accepted")
	}
	if err := r.Register("broken", func(ProviderSettings) (Provider, error) {
		return nil, errors.New("missing api key")
	}); err != nil {
		t.Fatal(err)
	}

	if names := r.Names(); !reflect.DeepEqual(names, []string{"broken", "scripted"}) {
		t.Errorf("Names() = %v", names)
	}

	p, err := r.New(ProviderSettings{Name: "SCRIPTED", Model: "m1", ContextLimit: 2048})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.ModelConfig().Model != "m1" || got.ContextLimit != 2048 {
		t.Errorf("settings not passed through: %+v", got)
	}

	_, err = r.New(ProviderSettings{Name: "nope"})
	if !errors.Is(err, ErrNoProvider) || !strings.Contains(err.Error(), "broken, scripted") {
		t.Errorf("unknown provider err = %v", err)
	}

	if _, err := r.New(ProviderSettings{Name: "broken"}); err == nil || !strings.Contains(err.Error(), "missing api key") {
		t.Errorf("factory failure err = %v", err)
	}
}
