// Package registry maps provider kinds to connector factories so the sync
// scheduler can build connectors from stored tenant configs.
package registry

import (
	"fmt"
	"strings"

	"github.com/appguard/appguard/internal/connectors"
)

// Definition describes one provider integration.
type Definition interface {
	// Provider is the stable kind key, e.g. "okta", "azure_ad".
	Provider() string
	DisplayName() string
	// New builds a connector from decrypted credentials.
	New(creds connectors.Credentials, opts connectors.Options) (connectors.Connector, error)
}

// Registry is the central table of provider definitions.
type Registry struct {
	definitions map[string]Definition
	order       []string
}

func New() *Registry {
	return &Registry{definitions: make(map[string]Definition)}
}

func (r *Registry) Register(def Definition) error {
	kind := strings.ToLower(strings.TrimSpace(def.Provider()))
	if kind == "" {
		return fmt.Errorf("provider kind cannot be empty")
	}
	if _, exists := r.definitions[kind]; exists {
		return fmt.Errorf("provider kind %q already registered", kind)
	}
	r.definitions[kind] = def
	r.order = append(r.order, kind)
	return nil
}

func (r *Registry) Get(kind string) (Definition, bool) {
	def, ok := r.definitions[strings.ToLower(strings.TrimSpace(kind))]
	return def, ok
}

func (r *Registry) All() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, kind := range r.order {
		defs = append(defs, r.definitions[kind])
	}
	return defs
}
