package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Store holds the values of a set of dependent selection fields and keeps
// their options, loading state and notifications consistent as values change.
// All methods are safe for concurrent use.
type Store struct {
	id     string
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu          sync.Mutex
	reg         *Registry
	fields      []FieldConfig
	destroyed   bool
	version     uint64
	values      Values
	adapter     Adapter
	external    map[string][]Option
	loaded      map[string][]Option
	loadedKey   map[string]string
	retracted   map[string]scalarSet
	cache       map[string]optionsCacheEntry
	snapshots   map[string]*Snapshot
	inflight    map[string]uint64
	loadGen     uint64
	loading     map[string]int
	notes       *notifier
	flushWanted bool
	delivering  bool
	redeliver   bool
}

// New creates a Store for fields seeded with initial values.
// Unknown names in initial are ignored.
func New(fields []FieldConfig, initial Values, config Config) *Store {
	return NewWithAdapter(fields, initial, nil, config)
}

// NewWithAdapter creates a Store that mirrors committed changes into adapter.
// When adapter also implements ValueSource, fields missing from initial are
// seeded from it.
func NewWithAdapter(fields []FieldConfig, initial Values, adapter Adapter, config Config) *Store {
	config.validate()
	id := uuid.NewString()
	logger := config.Logger.With("store", id)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		id:        id,
		cfg:       config,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		reg:       NewRegistry(fields, logger),
		fields:    fields,
		values:    make(Values),
		adapter:   adapter,
		external:  make(map[string][]Option),
		loaded:    make(map[string][]Option),
		loadedKey: make(map[string]string),
		retracted: make(map[string]scalarSet),
		cache:     make(map[string]optionsCacheEntry),
		snapshots: make(map[string]*Snapshot),
		inflight:  make(map[string]uint64),
		loading:   make(map[string]int),
		notes:     newNotifier(),
	}

	for name, v := range initial {
		if !s.reg.Has(name) {
			logger.Debug("ignoring initial value for unknown field", "field", name)
			continue
		}
		if v.IsSet() {
			s.values[name] = v
		}
	}
	if src, ok := adapter.(ValueSource); ok {
		for _, name := range s.reg.Names() {
			if _, seeded := s.values[name]; seeded {
				continue
			}
			if v, ok := src.FieldValue(name); ok && v.IsSet() {
				s.values[name] = v
			}
		}
	}

	s.mu.Lock()
	for _, name := range s.reg.Names() {
		s.triggerLoadLocked(name, false)
	}
	s.unlockAndFlush()

	return s
}

// ID returns the unique identifier of the store, as used in its log entries.
func (s *Store) ID() string { return s.id }

// Registry returns the relationship graph the store was built with.
func (s *Store) Registry() *Registry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg
}

// Version returns a counter that increases on every state change.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Value returns the current value of a field. Unknown fields are absent.
func (s *Store) Value(name string) Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[name]
}

// Values returns a copy of all present values.
func (s *Store) Values() Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Clone()
}

// Field returns the configuration of a field.
func (s *Store) Field(name string) (FieldConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Config(name)
}

// Fields returns the field configurations in config order.
func (s *Store) Fields() []FieldConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FieldConfig, 0, len(s.fields))
	for _, name := range s.reg.Names() {
		cfg, _ := s.reg.Config(name)
		out = append(out, cfg)
	}
	return out
}

// SetAdapter replaces the adapter informed of committed changes.
func (s *Store) SetAdapter(adapter Adapter) {
	s.mu.Lock()
	s.adapter = adapter
	s.mu.Unlock()
}

// SetValue sets one field and cascades the change to its dependents.
// Setting a value equal to the current one does nothing.
func (s *Store) SetValue(name string, value Value) {
	s.SetValues(Values{name: value})
}

// SetValues sets several fields in one commit. Dependents are cascaded once
// for the whole set and the adapter receives a single batch when it supports
// one.
func (s *Store) SetValues(values Values) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	direct := make(Values, len(values))
	for name, v := range values {
		if !s.reg.Has(name) {
			s.logger.Debug("ignoring value for unknown field", "field", name)
			continue
		}
		direct[name] = v
	}
	changes := s.commitLocked(direct)
	adapter := s.adapter
	s.unlockAndFlush()

	notifyAdapter(adapter, changes)
}

// SyncControlledValue replaces the store's values with the full value set
// held by an external owner. Fields that differ are updated and notified;
// no cascade runs and the adapter is not called, because the owner already
// holds these values.
func (s *Store) SyncControlledValue(values Values) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	var changed []string
	next := s.values.Clone()
	for _, name := range s.reg.Names() {
		v := values[name]
		if next[name].Equal(v) {
			continue
		}
		if v.IsSet() {
			next[name] = v
		} else {
			delete(next, name)
		}
		changed = append(changed, name)
	}
	if len(changed) > 0 {
		s.values = next
		s.version++
		s.markLocked(changed...)
		s.triggerChildLoadsLocked(changed)
	}
	s.unlockAndFlush()
}

// commitLocked applies direct changes and their cascade atomically and
// returns every field whose value changed, direct changes first.
func (s *Store) commitLocked(direct Values) []Change {
	next := s.values.Clone()
	var changed []string
	var records []Change
	for _, name := range s.reg.Names() {
		v, ok := direct[name]
		if !ok || next[name].Equal(v) {
			continue
		}
		setValue(next, name, v)
		changed = append(changed, name)
		records = append(records, Change{Field: name, Value: v})
	}
	if len(changed) == 0 {
		return nil
	}

	cascaded := cascade(s.reg, next, changed, s.rawOptionsLocked)
	for _, c := range cascaded {
		setValue(next, c.Field, c.Value)
	}
	records = append(records, cascaded...)

	s.values = next
	s.version++

	names := make([]string, len(records))
	for i, c := range records {
		names[i] = c.Field
	}
	s.markLocked(names...)
	s.triggerChildLoadsLocked(names)

	s.logger.Debug("values committed", "direct", len(changed), "cascaded", len(cascaded))
	return records
}

func setValue(values Values, name string, v Value) {
	if v.IsSet() {
		values[name] = v
	} else {
		delete(values, name)
	}
}

// notifyAdapter mirrors changes into the adapter, preferring the batch form
// when more than one field changed.
func notifyAdapter(adapter Adapter, changes []Change) {
	if adapter == nil || len(changes) == 0 {
		return
	}
	if len(changes) > 1 {
		if b, ok := adapter.(BatchAdapter); ok {
			b.OnFieldsChange(slices.Clone(changes))
			return
		}
	}
	for _, c := range changes {
		adapter.OnFieldChange(c.Field, c.Value)
	}
}

// Snapshot returns the derived state of a field. The same pointer is
// returned until the value, parent value(s) or loading state change.
// Unknown fields return nil.
func (s *Store) Snapshot(name string) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reg.Has(name) {
		return nil
	}

	value := s.values[name]
	var parent Value
	var parents ParentValues
	switch ps := s.reg.parents(name); len(ps) {
	case 0:
	case 1:
		parent = s.values[ps[0]]
	default:
		parents = s.parentValuesLocked(name)
	}
	loading := s.loading[name] > 0

	if prev, ok := s.snapshots[name]; ok && prev.same(value, parent, parents, loading) {
		return prev
	}
	snap := &Snapshot{
		Value:        value,
		ParentValue:  parent,
		ParentValues: parents,
		IsLoading:    loading,
	}
	s.snapshots[name] = snap
	return snap
}

// Subscribe registers l for notifications about a field and returns a
// function that removes it. Listeners run outside the store lock and may
// call back into the store.
func (s *Store) Subscribe(name string, l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed || !s.reg.Has(name) {
		return func() {}
	}
	id := s.notes.addLocked(name, l)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.notes.removeLocked(name, id)
			s.mu.Unlock()
		})
	}
}

// SubscribeAll registers l for every field.
func (s *Store) SubscribeAll(l Listener) (unsubscribe func()) {
	names := s.Registry().Names()
	unsubs := make([]func(), 0, len(names))
	for _, name := range names {
		unsubs = append(unsubs, s.Subscribe(name, l))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Destroy cancels in-flight loads, drops subscribers and caches, and makes
// further mutations no-ops. It is safe to call more than once.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.cancel()
	s.notes.resetLocked()
	s.adapter = nil
	s.external = make(map[string][]Option)
	s.loaded = make(map[string][]Option)
	s.loadedKey = make(map[string]string)
	s.retracted = make(map[string]scalarSet)
	s.cache = make(map[string]optionsCacheEntry)
	s.snapshots = make(map[string]*Snapshot)
	s.inflight = make(map[string]uint64)
	s.loading = make(map[string]int)
	s.logger.Debug("store destroyed")
}

// reconfigure swaps in a new config list with the same field names,
// keeping values and loaded options.
func (s *Store) reconfigure(fields []FieldConfig) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.reg = NewRegistry(fields, s.logger)
	s.fields = fields
	s.version++
	s.cache = make(map[string]optionsCacheEntry)
	names := s.reg.Names()
	s.markLocked(names...)
	for _, name := range names {
		s.triggerLoadLocked(name, false)
	}
	s.unlockAndFlush()
}

// markLocked queues notifications for names and their direct dependents.
func (s *Store) markLocked(names ...string) {
	if s.notes.markLocked(s.reg, names...) {
		s.flushWanted = true
	}
}

// unlockAndFlush releases the lock and, if notifications were queued while
// it was held, schedules a flush.
func (s *Store) unlockAndFlush() {
	want := s.flushWanted
	s.flushWanted = false
	scheduler := s.cfg.Scheduler
	s.mu.Unlock()
	if want {
		scheduler.Schedule(s.flush)
	}
}

// flush delivers pending notifications. Only one flush delivers at a time;
// a flush that finds another one delivering leaves its pending set to a
// flush rescheduled when the running one ends.
func (s *Store) flush() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	if s.delivering {
		s.redeliver = true
		s.mu.Unlock()
		return
	}
	s.delivering = true
	deliveries := s.notes.takeLocked(s.reg)
	s.mu.Unlock()
	defer s.endDelivery()

	for _, d := range deliveries {
		d.listener(d.field)
	}
}

func (s *Store) endDelivery() {
	s.mu.Lock()
	s.delivering = false
	again := s.redeliver && !s.destroyed
	s.redeliver = false
	scheduler := s.cfg.Scheduler
	s.mu.Unlock()
	if again {
		scheduler.Schedule(s.flush)
	}
}
