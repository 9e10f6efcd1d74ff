package provider

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type stubCompleter struct {
	name string
}

func (s *stubCompleter) Name() string { return s.name }

func (s *stubCompleter) Complete(_ context.Context, req *Request) (*Completion, error) {
	return &Completion{Content: "ok", Model: req.Model}, nil
}

func (s *stubCompleter) WarmCache(context.Context, []string) error { return nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&stubCompleter{name: "openai"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	c, err := r.Get("openai")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if c.Name() != "openai" {
		t.Errorf("Name() = %q, want %q", c.Name(), "openai")
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&stubCompleter{name: "openai"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubCompleter{name: "openai"}); err == nil {
		t.Error("expected error registering duplicate name")
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Get() error = %v, want ErrUnknownProvider", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"gemini", "anthropic", "openai"} {
		if err := r.Register(&stubCompleter{name: name}); err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}

	want := []string{"anthropic", "gemini", "openai"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistryRejectsInvalid(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(nil); err == nil {
		t.Error("expected error registering nil completer")
	}
	if err := r.Register(&stubCompleter{name: ""}); err == nil {
		t.Error("expected error registering empty name")
	}
}
