package factory

import (
	"errors"
	"testing"
)

type sample struct{ Path string }

type sampleConf struct {
	Path    string `json:"path"`
	Retries int    `json:"retries"`
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("sqlite", func(conf map[string]any) (*sample, error) {
		var c sampleConf
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &sample{Path: c.Path}, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "scenario.db"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Path != "scenario.db" {
		t.Fatalf("expected scenario.db got %s", inst.Path)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("memory", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("memory", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	if err := reg.Register("memory", func(map[string]any) (int, error) { return 2, nil }); err == nil {
		t.Fatal("expected duplicate error")
	}
	if _, err := reg.Create(ModuleConfig{Type: "postgres"}); !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule got %v", err)
	}
	if got := reg.Names(); len(got) != 1 || got[0] != "memory" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestDecode_WeakTypes(t *testing.T) {
	var c sampleConf
	if err := Decode(map[string]any{"path": "a.db", "retries": "3"}, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.Retries != 3 {
		t.Fatalf("expected 3 retries got %d", c.Retries)
	}
}
