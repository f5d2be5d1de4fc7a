package store

import "errors"

var (
	// ErrUnknownField is reported when a name does not match any configured field.
	ErrUnknownField = errors.New("cascader: unknown field")

	// ErrUnknownParent is reported when a field depends on a field that is not configured.
	ErrUnknownParent = errors.New("cascader: dependency refers to unknown field")

	// ErrDuplicateField is reported when two configs share a name. The later one wins.
	ErrDuplicateField = errors.New("cascader: duplicate field name")

	// ErrCycle is reported when the dependency graph is not acyclic.
	ErrCycle = errors.New("cascader: dependency cycle")

	// ErrDestroyed is returned by Reload once the store has been destroyed.
	ErrDestroyed = errors.New("cascader: store is destroyed")

	// ErrInvalidValue is returned when a loosely typed value cannot become a Value.
	ErrInvalidValue = errors.New("cascader: invalid value")

	// ErrLoadFailed wraps errors returned by dynamic option sources.
	ErrLoadFailed = errors.New("cascader: option load failed")
)
