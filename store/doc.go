// Package store provides a reactive store for chains of dependent selection
// fields, such as Country → Province → City.
//
// Each field declares the fields it depends on. When a parent value changes
// the store cascades the change to every dependent, drops selections that the
// new parent values no longer justify, filters each field's options against
// its parents, loads dynamic options with request de-duplication, and batches
// notifications so subscribers hear about each field at most once per flush.
//
// # Fields
//
// A field is described by a [FieldConfig]:
//
//	fields := []store.FieldConfig{
//	    {Name: "country", Options: store.Static(countries...)},
//	    {Name: "province", DependsOn: []string{"country"}, Options: store.Static(provinces...)},
//	    {Name: "city", DependsOn: []string{"province"}, Options: store.Dynamic(loadCities)},
//	}
//	s := store.New(fields, nil, store.DefaultConfig())
//	defer s.Destroy()
//
// Options declare the parent values that justify them through
// [Option.ParentValue] or, for fields with several parents,
// [Option.ParentValues].
//
// # Cascade
//
// When a dependent's parents all become empty, the dependent is cleared.
// Otherwise, if any of its options declares a parent value, each selected
// value is kept only while a matching option is justified by a remaining
// parent value. If no option declares a parent value the dependent is cleared.
//
// # Notifications
//
// Listeners registered with [Store.Subscribe] are called on a later turn
// chosen by [Config.Scheduler]. An [Adapter] set on the store is called
// synchronously after every commit, with a batch when it implements
// [BatchAdapter] and more than one field changed.
//
// # Errors
//
// Mutations never return errors; unknown fields and bad configuration are
// logged and ignored. The package defines:
//
//   - [ErrUnknownField] - a name does not match any configured field
//   - [ErrUnknownParent] - a dependency names an unknown field
//   - [ErrDuplicateField] - two configs share a name
//   - [ErrCycle] - the dependency graph has a cycle
//   - [ErrDestroyed] - the store has been destroyed
//   - [ErrInvalidValue] - a loosely typed value cannot become a [Value]
//   - [ErrLoadFailed] - a dynamic option source failed
package store
