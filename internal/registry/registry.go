// Package registry holds the fixed, ordered list of provider services the
// sweep iterates over. The registry is built once at startup and never
// mutated; iteration order is registration order so sweep logs are
// reproducible.
package registry

import (
	"fmt"

	"token-refresher/internal/common/errors"
	"token-refresher/internal/connections"
	"token-refresher/internal/providers"
)

// Service binds one provider identity to its connection store accessor and
// its refresh adapter.
type Service struct {
	// ID is the provider identity, matching Connection.Provider values
	ID string
	// Name is the human-readable provider name used in logs
	Name string
	// Store is where this provider's connections live
	Store connections.Store
	// Adapter performs the provider's refresh exchange
	Adapter providers.Adapter
}

// Registry is an immutable ordered collection of services.
type Registry struct {
	services []*Service
	byID     map[string]*Service
}

// New builds a registry from the given services. IDs must be unique and each
// entry must carry a store and an adapter.
func New(services ...*Service) (*Registry, error) {
	byID := make(map[string]*Service, len(services))
	for _, svc := range services {
		if svc.ID == "" {
			return nil, errors.ValidationError("service ID is required")
		}
		if svc.Store == nil {
			return nil, errors.ValidationError(fmt.Sprintf("service %s has no connection store", svc.ID))
		}
		if svc.Adapter == nil {
			return nil, errors.ValidationError(fmt.Sprintf("service %s has no provider adapter", svc.ID))
		}
		if _, exists := byID[svc.ID]; exists {
			return nil, errors.ValidationError(fmt.Sprintf("service %s registered twice", svc.ID))
		}
		if svc.Name == "" {
			svc.Name = svc.ID
		}
		byID[svc.ID] = svc
	}

	return &Registry{
		services: services,
		byID:     byID,
	}, nil
}

// Services returns the registered services in registration order. Callers
// must not mutate the returned slice.
func (r *Registry) Services() []*Service {
	return r.services
}

// Get returns the service registered under the given provider ID.
func (r *Registry) Get(id string) (*Service, bool) {
	svc, ok := r.byID[id]
	return svc, ok
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(r.services)
}
