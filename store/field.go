package store

import "context"

// Mode selects whether a field holds one value or a list of values.
type Mode int

const (
	// ModeSingle fields hold at most one scalar.
	ModeSingle Mode = iota
	// ModeMultiple fields hold an ordered list of scalars.
	ModeMultiple
)

// String returns "single" or "multiple".
func (m Mode) String() string {
	if m == ModeMultiple {
		return "multiple"
	}
	return "single"
}

// Option is one selectable choice of a field.
type Option struct {
	// Label is the display text.
	Label string `json:"label"`

	// Value is the scalar stored in the field when this option is selected.
	Value Scalar `json:"value"`

	// ParentValue declares which parent selection(s) justify this option.
	// Any member being selected is enough. Multi() with no items means
	// "declared, always justified".
	ParentValue Value `json:"parentValue,omitempty"`

	// ParentValues is the keyed form for fields with several parents: for
	// each parent field, the values of that parent that justify this option.
	ParentValues map[string]Value `json:"parentValues,omitempty"`

	// Disabled options are listed but should not be selectable.
	Disabled bool `json:"disabled,omitempty"`
}

// DeclaresParent reports whether the option carries any parent information.
func (o Option) DeclaresParent() bool {
	return o.ParentValue.IsSet() || len(o.ParentValues) > 0
}

// LoadFunc fetches the options of a field for the given parent values.
type LoadFunc func(ctx context.Context, parents ParentValues) ([]Option, error)

// FilterFunc narrows a field's raw options against its parents' values.
type FilterFunc func(options []Option, parents ParentValues) []Option

// OptionSource is where a field's raw options come from: a static list or
// a function of the parent values.
type OptionSource struct {
	static []Option
	load   LoadFunc
}

// Static returns an OptionSource holding a fixed list.
func Static(options ...Option) OptionSource {
	return OptionSource{static: options}
}

// Dynamic returns an OptionSource that loads options asynchronously.
func Dynamic(fn LoadFunc) OptionSource {
	return OptionSource{load: fn}
}

// IsDynamic reports whether options are loaded by a function.
func (s OptionSource) IsDynamic() bool { return s.load != nil }

// StaticOptions returns the configured static list (nil for dynamic sources).
func (s OptionSource) StaticOptions() []Option { return s.static }

// FieldConfig describes one field. It is immutable once handed to a store.
type FieldConfig struct {
	// Name uniquely identifies the field.
	Name string

	// DependsOn lists the parent fields. Empty for root fields.
	DependsOn []string

	// Options is the raw option source.
	Options OptionSource

	// FilterOptions replaces the default parent filtering when set.
	FilterOptions FilterFunc

	// Mode selects single or multiple selection.
	Mode Mode
}

// emptyValue is what a field holds after a cascade clears it.
func (c FieldConfig) emptyValue() Value {
	if c.Mode == ModeMultiple {
		return Multi()
	}
	return Value{}
}

// ParentValues holds the current values of a field's parents keyed by
// parent field name.
type ParentValues map[string]Value

// union returns the set of all scalars held by any parent.
func (p ParentValues) union() scalarSet {
	set := make(scalarSet)
	for _, v := range p {
		set.add(v)
	}
	return set
}

// IsEmpty reports whether no parent holds any scalar.
func (p ParentValues) IsEmpty() bool {
	for _, v := range p {
		if !v.IsEmpty() {
			return false
		}
	}
	return true
}

// Equal compares key by key.
func (p ParentValues) Equal(o ParentValues) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Snapshot is an immutable view of a field's derived state. The store hands
// out the same pointer for as long as nothing in it changes.
type Snapshot struct {
	Value Value

	// ParentValue is set for fields with exactly one parent.
	ParentValue Value

	// ParentValues is set for fields with several parents.
	ParentValues ParentValues

	IsLoading bool
}

func (s *Snapshot) same(value, parent Value, parents ParentValues, loading bool) bool {
	return s.IsLoading == loading &&
		s.Value.Equal(value) &&
		s.ParentValue.Equal(parent) &&
		s.ParentValues.Equal(parents)
}

// Listener is invoked with the name of a field whose derived state may have
// changed. Listeners re-read what they need from the store. Flushes are
// delivered one at a time, so listeners never run concurrently with each
// other.
type Listener func(field string)

// Adapter mirrors committed value changes into an external value holder,
// typically a form library. It is called after the store lock is released,
// on the goroutine that made the change; changes committed concurrently from
// several goroutines may reach it in a different order than they were
// committed.
type Adapter interface {
	OnFieldChange(name string, value Value)
}

// BatchAdapter is implemented by adapters that accept several changes at once.
// It is preferred when a single commit changes more than one field.
type BatchAdapter interface {
	OnFieldsChange(changes []Change)
}

// ValueSource is implemented by adapters that can supply initial values.
type ValueSource interface {
	FieldValue(name string) (Value, bool)
	FieldsValue() Values
}
