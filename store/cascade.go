package store

// Cascade policy
//
// When a parent changes, each dependent that still holds a value is checked
// against the values its parents will hold after the commit:
//
//   - no parent holds anything: the dependent is cleared (Multi() for
//     multiple fields, absent otherwise);
//   - at least one of the dependent's options declares a parent value: each
//     selected value survives only if a matching option is justified by a
//     remaining parent value (selective cascade);
//   - no option declares a parent value: the dependent is cleared, because
//     nothing says which remaining parent values justify which selections
//     (blunt cascade).
//
// The choice between selective and blunt is made per field from the whole
// option list, so a partially annotated list cascades selectively and its
// unannotated options keep their selections.

// cascade applies the effect of the direct changes in changed to every
// descendant, mutating next in place. next must already hold the direct
// changes. rawOptions returns the unfiltered option list of a field.
// The returned records list only descendants whose value actually changed,
// in cascade order.
func cascade(reg *Registry, next Values, changed []string, rawOptions func(string) []Option) []Change {
	changedSet := make(map[string]bool, len(changed))
	for _, n := range changed {
		changedSet[n] = true
	}

	var records []Change
	for _, d := range reg.CascadeOrder(changed...) {
		parents := reg.parents(d)
		if !anyChanged(parents, changedSet) {
			continue
		}

		current := next[d]
		if current.IsEmpty() {
			continue
		}

		cfg, _ := reg.Config(d)
		remaining := make(ParentValues, len(parents))
		for _, p := range parents {
			remaining[p] = next[p]
		}

		var updated Value
		switch {
		case remaining.IsEmpty():
			updated = cfg.emptyValue()
		default:
			options := rawOptions(d)
			if anyDeclaresParent(options) {
				updated = selective(current, options, remaining)
			} else {
				updated = cfg.emptyValue()
			}
		}

		if updated.Equal(current) {
			continue
		}
		next[d] = updated
		changedSet[d] = true
		records = append(records, Change{Field: d, Value: updated})
	}
	return records
}

// selective keeps the selected scalars that are still justified by a
// remaining parent value.
func selective(current Value, options []Option, remaining ParentValues) Value {
	union := remaining.union()
	byField := make(map[string]scalarSet, len(remaining))
	for f, v := range remaining {
		s := make(scalarSet)
		s.add(v)
		byField[f] = s
	}

	return current.filter(func(selected Scalar) bool {
		for _, opt := range options {
			if !ScalarEqual(opt.Value, selected) {
				continue
			}
			if justified(opt, union, byField) {
				return true
			}
		}
		return false
	})
}

// justified reports whether opt may stay selected given the remaining
// parent values. Options without parent information are always justified.
func justified(opt Option, union scalarSet, byField map[string]scalarSet) bool {
	if len(opt.ParentValues) > 0 {
		informative := false
		for field, vals := range opt.ParentValues {
			if vals.IsEmpty() {
				continue
			}
			informative = true
			if set, ok := byField[field]; ok && set.intersects(vals) {
				return true
			}
		}
		return !informative
	}
	if opt.ParentValue.IsSet() {
		if opt.ParentValue.IsEmpty() {
			return true
		}
		return union.intersects(opt.ParentValue)
	}
	return true
}

func anyDeclaresParent(options []Option) bool {
	for _, o := range options {
		if o.DeclaresParent() {
			return true
		}
	}
	return false
}

func anyChanged(names []string, changed map[string]bool) bool {
	for _, n := range names {
		if changed[n] {
			return true
		}
	}
	return false
}
