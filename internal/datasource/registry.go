package datasource

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrUnknownDatasource is returned when a name is not registered.
var ErrUnknownDatasource = eris.New("datasource: unknown datasource")

// Registry maps datasource names to their implementations.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Datasource
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry holding sources.
func NewRegistry(sources ...Datasource) (*Registry, error) {
	r := &Registry{sources: make(map[string]Datasource)}
	for _, ds := range sources {
		if err := r.Register(ds); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a datasource. Names must be unique and non-empty.
func (r *Registry) Register(ds Datasource) error {
	name := ds.Name()
	if name == "" {
		return eris.New("datasource: register source with empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[name]; ok {
		return eris.Errorf("datasource: %q is already registered", name)
	}
	r.sources[name] = ds
	r.order = append(r.order, name)
	return nil
}

// Get returns a datasource by name.
func (r *Registry) Get(name string) (Datasource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ds, ok := r.sources[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownDatasource, "datasource: get %q", name)
	}
	return ds, nil
}

// Select returns the named datasources, or all of them when names is empty.
func (r *Registry) Select(names []string) ([]Datasource, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Datasource, 0, len(names))
	for _, name := range names {
		ds, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, ds)
	}
	return result, nil
}

// All returns every datasource in registration order.
func (r *Registry) All() []Datasource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Datasource, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.sources[name])
	}
	return result
}

// Len returns the number of registered datasources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
