package store

import (
	"slices"
	"sync"
)

// Provider owns a Store across configuration changes. The store is kept while
// the set of field names stays the same and recreated otherwise, carrying
// over the values of surviving fields.
type Provider struct {
	mu     sync.Mutex
	config Config
	fields []FieldConfig
	store  *Store
}

// NewProvider creates a Provider and its first Store.
func NewProvider(fields []FieldConfig, initial Values, config Config) *Provider {
	return &Provider{
		config: config,
		fields: fields,
		store:  New(fields, initial, config),
	}
}

// Store returns the current store.
func (p *Provider) Store() *Store {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store
}

// Update applies a new config list. It reports whether the store was
// recreated. Passing the same list again is a no-op.
func (p *Provider) Update(fields []FieldConfig) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sameList(p.fields, fields) {
		return false
	}
	if sameNames(p.fields, fields) {
		p.fields = fields
		p.store.reconfigure(fields)
		return false
	}

	old := p.store
	carried := old.Values()
	old.mu.Lock()
	adapter := old.adapter
	old.mu.Unlock()
	old.Destroy()

	p.fields = fields
	p.store = NewWithAdapter(fields, carried, adapter, p.config)
	p.store.logger.Debug("store recreated after schema change", "previous", old.ID())
	return true
}

// Close destroys the current store.
func (p *Provider) Close() {
	p.Store().Destroy()
}

// sameList reports whether a and b share their backing array and length.
func sameList(a, b []FieldConfig) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func sameNames(a, b []FieldConfig) bool {
	names := func(fs []FieldConfig) []string {
		out := make([]string, 0, len(fs))
		for _, f := range fs {
			out = append(out, f.Name)
		}
		slices.Sort(out)
		return slices.Compact(out)
	}
	return slices.Equal(names(a), names(b))
}
