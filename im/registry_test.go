package im

import "testing"

type stubExt struct{ ns []string }

func (e stubExt) Namespaces() []string { return e.ns }

func TestRegistryResolvesDependenciesOnce(t *testing.T) {
	r := NewRegistry()
	var baseBuilds int
	r.Register("base", nil, func(s *Session, load func(string) (Extension, error)) (Extension, error) {
		baseBuilds++
		return stubExt{ns: []string{"urn:example:base"}}, nil
	})
	r.Register("derived", []string{"base"}, func(s *Session, load func(string) (Extension, error)) (Extension, error) {
		if _, err := load("base"); err != nil {
			return nil, err
		}
		return stubExt{ns: []string{"urn:example:derived"}}, nil
	})

	if _, err := r.Load("derived", nil); err != nil {
		t.Fatalf("load derived: %v", err)
	}
	if _, err := r.Load("base", nil); err != nil {
		t.Fatalf("load base: %v", err)
	}
	if baseBuilds != 1 {
		t.Errorf("base factory called %d times, want 1 (singleton)", baseBuilds)
	}

	ns := r.Namespaces()
	if len(ns) != 2 {
		t.Fatalf("Namespaces() = %v, want 2 entries", ns)
	}
}

func TestRegistryRejectsCycleAtRegistration(t *testing.T) {
	r := NewRegistry()
	r.Register("a", []string{"b"}, func(*Session, func(string) (Extension, error)) (Extension, error) {
		return stubExt{}, nil
	})

	defer func() {
		if recover() == nil {
			t.Fatal("expected Register to panic on dependency cycle")
		}
	}()
	r.Register("b", []string{"a"}, func(*Session, func(string) (Extension, error)) (Extension, error) {
		return stubExt{}, nil
	})
}

func TestRegistryUnloadRemovesNamespace(t *testing.T) {
	r := NewRegistry()
	r.Register("x", nil, func(*Session, func(string) (Extension, error)) (Extension, error) {
		return stubExt{ns: []string{"urn:example:x"}}, nil
	})
	if _, err := r.Load("x", nil); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(r.Namespaces()) != 1 {
		t.Fatalf("expected one namespace before unload")
	}
	r.Unload("x")
	if len(r.Namespaces()) != 0 {
		t.Fatalf("expected no namespaces after unload")
	}
}
