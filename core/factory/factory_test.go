package factory

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

type sample struct {
	Steps   int
	Timeout time.Duration
}

type sampleConf struct {
	Steps   int           `json:"steps"`
	Timeout time.Duration `json:"timeout"`
}

func sampleFactory(conf map[string]any) (*sample, error) {
	var c sampleConf
	if err := Decode(conf, &c); err != nil {
		return nil, err
	}
	return &sample{Steps: c.Steps, Timeout: c.Timeout}, nil
}

func TestRegistry_Create(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("Sample", sampleFactory); err != nil {
		t.Fatalf("register: %v", err)
	}
	inst, err := reg.Create(ModuleConfig{Type: " sample", Conf: map[string]any{"steps": "24", "timeout": "30s"}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inst.Steps != 24 || inst.Timeout != 30*time.Second {
		t.Fatalf("unexpected decoded module %+v", inst)
	}
	if got := reg.Names(); !reflect.DeepEqual(got, []string{"sample"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg := NewRegistry[int]()
	if err := reg.Register("x", func(map[string]any) (int, error) { return 1, nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("X", func(map[string]any) (int, error) { return 2, nil }); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := reg.Register("y", nil); err == nil {
		t.Fatal("expected nil factory error")
	}
	if err := reg.Register(" ", func(map[string]any) (int, error) { return 0, nil }); err == nil {
		t.Fatal("expected empty name error")
	}
	_, err := reg.Create(ModuleConfig{Type: "y"})
	if !errors.Is(err, ErrUnknownType) || !strings.Contains(err.Error(), "known: x") {
		t.Fatalf("expected unknown type error listing x, got %v", err)
	}
}

func TestRegistry_CreateWrapsFactoryError(t *testing.T) {
	reg := NewRegistry[*sample]()
	if err := reg.Register("sample", sampleFactory); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := reg.Create(ModuleConfig{Type: "sample", Conf: map[string]any{"stepz": 3}})
	if err == nil || !strings.HasPrefix(err.Error(), "sample: ") {
		t.Fatalf("expected unused key error prefixed with the type, got %v", err)
	}
}
