package store

import (
	"fmt"
	"math"
	"strings"

	json "github.com/goccy/go-json"
)

// Scalar is a single selectable value. It holds a string or a number.
// Numbers compare by numeric value regardless of their Go kind.
type Scalar = any

// Value is the value held by a field. It is either absent, a single scalar,
// or an ordered list of scalars (multi-select).
//
// The zero Value is absent. Multi() with no arguments is an empty list and is
// not equal to an absent value.
type Value struct {
	items []Scalar
	list  bool
	set   bool
}

// Single returns a Value holding one scalar. Single(nil) is absent.
func Single(s Scalar) Value {
	if s == nil {
		return Value{}
	}
	return Value{items: []Scalar{normalize(s)}, set: true}
}

// Multi returns a list Value holding the given scalars in order.
func Multi(items ...Scalar) Value {
	out := make([]Scalar, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		out = append(out, normalize(it))
	}
	return Value{items: out, list: true, set: true}
}

// IsSet reports whether the value is present (an empty list is present).
func (v Value) IsSet() bool { return v.set }

// IsList reports whether the value is a multi-select list.
func (v Value) IsList() bool { return v.list }

// IsEmpty reports whether the value carries no scalar at all.
func (v Value) IsEmpty() bool { return len(v.items) == 0 }

// Len returns the number of scalars held.
func (v Value) Len() int { return len(v.items) }

// Scalar returns the single scalar of a non-list value, or nil.
func (v Value) Scalar() Scalar {
	if v.list || len(v.items) == 0 {
		return nil
	}
	return v.items[0]
}

// Items returns a copy of the held scalars.
func (v Value) Items() []Scalar {
	out := make([]Scalar, len(v.items))
	copy(out, v.items)
	return out
}

// Contains reports whether s is one of the held scalars.
func (v Value) Contains(s Scalar) bool {
	for _, it := range v.items {
		if ScalarEqual(it, s) {
			return true
		}
	}
	return false
}

// Equal compares two values: scalars by value, lists by length and
// positional equality. Absent, single and list values never compare equal
// to each other.
func (v Value) Equal(o Value) bool {
	if v.set != o.set || v.list != o.list || len(v.items) != len(o.items) {
		return false
	}
	for i := range v.items {
		if !ScalarEqual(v.items[i], o.items[i]) {
			return false
		}
	}
	return true
}

// filter returns a copy of v with every scalar rejected by keep removed.
// The list/single shape is preserved; a single value that is dropped becomes absent.
func (v Value) filter(keep func(Scalar) bool) Value {
	if !v.set {
		return v
	}
	out := make([]Scalar, 0, len(v.items))
	for _, it := range v.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	if !v.list && len(out) == 0 {
		return Value{}
	}
	return Value{items: out, list: v.list, set: true}
}

// String renders the value for logs and CLI output.
func (v Value) String() string {
	if !v.set {
		return "<absent>"
	}
	if !v.list {
		return fmt.Sprint(v.items[0])
	}
	parts := make([]string, len(v.items))
	for i, it := range v.items {
		parts[i] = fmt.Sprint(it)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// MarshalJSON encodes absent as null, a single value as the scalar and a
// list as an array.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.set {
		return []byte("null"), nil
	}
	if !v.list {
		return json.Marshal(v.items[0])
	}
	return json.Marshal(v.items)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	nv, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = nv
	return nil
}

// ValueOf converts a loosely typed value (as produced by JSON or YAML
// decoders) into a Value: nil is absent, slices become lists and strings or
// numbers become single values.
func ValueOf(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case []any:
		for _, it := range x {
			if !isScalar(it) {
				return Value{}, fmt.Errorf("%w: list element %T", ErrInvalidValue, it)
			}
		}
		return Multi(x...), nil
	case []string:
		items := make([]Scalar, len(x))
		for i, s := range x {
			items[i] = s
		}
		return Multi(items...), nil
	default:
		if !isScalar(x) {
			return Value{}, fmt.Errorf("%w: %T", ErrInvalidValue, raw)
		}
		return Single(x), nil
	}
}

// Values maps field names to their current values.
type Values map[string]Value

// Clone returns a shallow copy. Value itself is immutable.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Change records the new value of a field after a commit.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// ScalarEqual compares two scalars, treating all numeric kinds by value.
func ScalarEqual(a, b Scalar) bool {
	return normalize(a) == normalize(b)
}

func isScalar(s any) bool {
	switch s.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// normalize maps every numeric kind to int64 when integral and float64
// otherwise, so that map keys and == agree with ScalarEqual.
func normalize(s Scalar) Scalar {
	switch x := s.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUint(x)
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)
	}
	return s
}

func normalizeUint(x uint64) Scalar {
	if x <= math.MaxInt64 {
		return int64(x)
	}
	return normalizeFloat(float64(x))
}

// normalizeFloat maps integral floats in int64 range to int64. The upper
// bound is exclusive: 1<<63 is the float64 nearest math.MaxInt64 and does
// not fit.
func normalizeFloat(f float64) Scalar {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < 1<<63 {
		return int64(f)
	}
	return f
}

// scalarSet is a membership set over normalized scalars.
type scalarSet map[Scalar]struct{}

func (s scalarSet) add(v Value) {
	for _, it := range v.items {
		s[normalize(it)] = struct{}{}
	}
}

func (s scalarSet) has(x Scalar) bool {
	_, ok := s[normalize(x)]
	return ok
}

func (s scalarSet) intersects(v Value) bool {
	for _, it := range v.items {
		if s.has(it) {
			return true
		}
	}
	return false
}
