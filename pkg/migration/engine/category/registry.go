package category

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dasabhishk/st2/pkg/migration/core/config"
	"github.com/dasabhishk/st2/pkg/migration/support/util/exception"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// ErrUnknownCategory is returned by Lookup for an id that was never registered.
var ErrUnknownCategory = errors.New("unknown migration category")

// Registry holds the descriptors keyed by category id.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// NewRegistryFromConfig registers one descriptor per configured category.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	for _, id := range cfg.CategoryIDs() {
		cat, _ := cfg.Category(id)
		if err := r.Register(FromConfig(id, cat, cfg.ReturnCodeMessages(id))); err != nil {
			return nil, err
		}
	}
	logger.Infof("Category registry initialized with %d categories: %v", len(r.descriptors), r.IDs())
	return r, nil
}

// Register adds d. Registering the same id twice is an error.
func (r *Registry) Register(d Descriptor) error {
	key := normalizeID(d.ID)
	if key == "" {
		return exception.NewMigrationError("category", exception.KindConfiguration, "category id is empty", nil, false)
	}
	if !config.IsIdentifier(d.Binding.Table) || !config.IsQualifiedIdentifier(d.Procedure) {
		return exception.NewMigrationErrorf("category", exception.KindConfiguration,
			"category %q has an invalid table %q or procedure %q", d.ID, d.Binding.Table, d.Procedure)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[key]; exists {
		return exception.NewMigrationErrorf("category", exception.KindConfiguration, "category %q already registered", d.ID)
	}
	r.descriptors[key] = d
	logger.Debugf("Registered category '%s' -> table %s, procedure %s.", d.ID, d.Binding.QualifiedName(), d.Procedure)
	return nil
}

// WithBuilder replaces the parameter builder of a registered category, for
// categories whose arguments are not a plain column projection.
func (r *Registry) WithBuilder(id string, builder ParameterBuilder) error {
	key := normalizeID(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.descriptors[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, id)
	}
	d.BuildParameters = builder
	r.descriptors[key] = d
	return nil
}

// Lookup returns the descriptor registered for id.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[normalizeID(id)]
	if !ok {
		return Descriptor{}, exception.NewMigrationError("category", exception.KindValidation,
			fmt.Sprintf("category %q is not configured", id), ErrUnknownCategory, false)
	}
	return d, nil
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.descriptors)
}

// AllowedTables is the set of qualified table names bound to registered categories.
func (r *Registry) AllowedTables() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	allowed := make(map[string]struct{}, len(r.descriptors))
	for _, d := range r.descriptors {
		allowed[d.Binding.QualifiedName()] = struct{}{}
	}
	return allowed
}
