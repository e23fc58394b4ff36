package registry

import (
	"testing"

	"github.com/appguard/appguard/internal/connectors"
)

type stubDefinition struct {
	kind string
}

func (d *stubDefinition) Provider() string    { return d.kind }
func (d *stubDefinition) DisplayName() string { return d.kind }
func (d *stubDefinition) New(connectors.Credentials, connectors.Options) (connectors.Connector, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(&stubDefinition{kind: "okta"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubDefinition{kind: "azure_ad"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, ok := r.Get("OKTA "); !ok {
		t.Fatal("Get() should normalize kind")
	}
	if _, ok := r.Get("github"); ok {
		t.Fatal("Get() returned unregistered kind")
	}
	if got := len(r.All()); got != 2 {
		t.Fatalf("All() len = %d, want 2", got)
	}
}

func TestRegisterRejectsDuplicatesAndEmpty(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(&stubDefinition{kind: "okta"}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(&stubDefinition{kind: "okta"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := r.Register(&stubDefinition{kind: "  "}); err == nil {
		t.Fatal("expected empty kind error")
	}
}
