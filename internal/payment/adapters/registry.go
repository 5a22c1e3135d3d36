package adapters

import (
	"fmt"
	"sort"
	"strings"

	"github.com/playgroundx/settlement/internal/payment/domain"
)

// Registry maps a gateway name, as it appears in /webhooks/:provider, to the
// factory that builds its adapter from stored credentials.
type Registry struct {
	factories map[string]domain.AdapterFactory
}

// NewRegistry panics on two factories claiming the same gateway; that is a
// wiring mistake, not a runtime condition.
func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	r := &Registry{factories: make(map[string]domain.AdapterFactory, len(factories))}
	for _, f := range factories {
		if f == nil {
			continue
		}
		name := Normalize(f.Provider())
		if name == "" {
			continue
		}
		if _, dup := r.factories[name]; dup {
			panic(fmt.Sprintf("payment adapter %q registered twice", name))
		}
		r.factories[name] = f
	}
	return r
}

// Normalize is the canonical form of a gateway name.
func Normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

func (r *Registry) Supports(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[Normalize(provider)]
	return ok
}

// Providers lists the registered gateways in name order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates an adapter for provider with its decrypted credentials.
func (r *Registry) Build(provider string, credentials map[string]any) (domain.PaymentAdapter, error) {
	name := Normalize(provider)
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	f, ok := r.factories[name]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return f.NewAdapter(domain.AdapterConfig{Provider: name, Config: credentials})
}
