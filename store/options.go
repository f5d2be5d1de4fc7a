package store

import (
	"slices"

	"github.com/jacentio/cascader/internal/keys"
)

// optionsCacheEntry is a filtered option list valid while the store version
// and the parent values it was computed from are unchanged.
type optionsCacheEntry struct {
	options   []Option
	parentKey string
	version   uint64
}

// FilterByParent is the default option filter. It keeps options that declare
// no parent, options whose ParentValue is an empty list, and options whose
// declared parent value(s) intersect the current parent value(s). Keyed
// ParentValues are matched per parent field.
func FilterByParent(options []Option, parents ParentValues) []Option {
	union := parents.union()
	byField := make(map[string]scalarSet, len(parents))
	for f, v := range parents {
		s := make(scalarSet)
		s.add(v)
		byField[f] = s
	}

	out := make([]Option, 0, len(options))
	for _, opt := range options {
		if justified(opt, union, byField) {
			out = append(out, opt)
		}
	}
	return out
}

// Options returns the options of a field filtered against its parents'
// current values. When external is non-nil it is used as the raw list for
// this call only and the cache is bypassed. The returned slice is shared and
// must not be modified.
func (s *Store) Options(name string, external []Option) []Option {
	s.mu.Lock()
	cfg, ok := s.reg.Config(name)
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("options requested for unknown field", "field", name)
		return nil
	}

	hasParents := len(s.reg.parents(name)) > 0
	var raw []Option
	if external != nil {
		raw = external
	} else {
		raw = s.rawOptionsLocked(name)
	}
	if !hasParents {
		s.mu.Unlock()
		return raw
	}

	parents := s.parentValuesLocked(name)
	parentKey := keys.Parents(parents)
	version := s.version
	if external == nil {
		if e, ok := s.cache[name]; ok && e.version == version && e.parentKey == parentKey {
			s.mu.Unlock()
			return e.options
		}
	}
	s.mu.Unlock()

	// Filters are user code; run them without the lock.
	var filtered []Option
	if cfg.FilterOptions != nil {
		filtered = cfg.FilterOptions(slices.Clone(raw), parents)
	} else {
		filtered = FilterByParent(raw, parents)
	}

	if external == nil {
		s.mu.Lock()
		if !s.destroyed && s.version == version {
			s.cache[name] = optionsCacheEntry{
				options:   filtered,
				parentKey: parentKey,
				version:   version,
			}
		}
		s.mu.Unlock()
	}
	return filtered
}

// SetExternalOptions supplies the raw options of a field from outside the
// store. They take precedence over loaded and static options. A nil list
// removes previously supplied options.
func (s *Store) SetExternalOptions(name string, options []Option) {
	s.mu.Lock()
	if s.destroyed || !s.reg.Has(name) {
		s.mu.Unlock()
		return
	}
	if options == nil {
		delete(s.external, name)
	} else {
		s.external[name] = slices.Clone(options)
	}
	s.version++
	s.markLocked(name)
	s.unlockAndFlush()
}

// RetractOption removes an option value from a field: it is hidden from every
// option source and deselected, cascading to dependents as a normal change.
// The retraction lasts until the field is invalidated.
func (s *Store) RetractOption(name string, value Scalar) {
	s.mu.Lock()
	if s.destroyed || !s.reg.Has(name) {
		s.mu.Unlock()
		return
	}
	set, ok := s.retracted[name]
	if !ok {
		set = make(scalarSet)
		s.retracted[name] = set
	}
	set[normalize(value)] = struct{}{}
	s.version++
	s.markLocked(name)

	var changes []Change
	current := s.values[name]
	if current.Contains(value) {
		updated := current.filter(func(x Scalar) bool { return !ScalarEqual(x, value) })
		changes = s.commitLocked(Values{name: updated})
	}
	adapter := s.adapter
	s.unlockAndFlush()

	s.logger.Debug("option retracted", "field", name, "value", value, "deselected", len(changes) > 0)
	notifyAdapter(adapter, changes)
}

// rawOptionsLocked resolves the unfiltered options of a field:
// external, then loaded, then static.
func (s *Store) rawOptionsLocked(name string) []Option {
	var raw []Option
	if opts, ok := s.external[name]; ok {
		raw = opts
	} else if opts, ok := s.loaded[name]; ok {
		raw = opts
	} else if cfg, ok := s.reg.Config(name); ok {
		raw = cfg.Options.StaticOptions()
	}

	retracted := s.retracted[name]
	if len(retracted) == 0 {
		return raw
	}
	out := make([]Option, 0, len(raw))
	for _, o := range raw {
		if !retracted.has(o.Value) {
			out = append(out, o)
		}
	}
	return out
}

// parentValuesLocked collects the current values of a field's parents.
func (s *Store) parentValuesLocked(name string) ParentValues {
	parents := s.reg.parents(name)
	pv := make(ParentValues, len(parents))
	for _, p := range parents {
		pv[p] = s.values[p]
	}
	return pv
}
