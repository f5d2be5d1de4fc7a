package store

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- normalize Tests ---

func TestNormalize_Numbers(t *testing.T) {
	assert.Equal(t, int64(3), normalize(3))
	assert.Equal(t, int64(3), normalize(uint8(3)))
	assert.Equal(t, int64(3), normalize(float32(3)))
	assert.Equal(t, 2.5, normalize(2.5))
	assert.Equal(t, "3", normalize("3"))
}

func TestNormalize_Int64Bounds(t *testing.T) {
	assert.Equal(t, int64(math.MinInt64), normalize(float64(math.MinInt64)))
	assert.Equal(t, float64(1<<63), normalize(float64(1<<63)))
	assert.Equal(t, float64(1<<63), normalize(uint64(1<<63)))
	assert.Equal(t, int64(math.MaxInt64), normalize(uint64(math.MaxInt64)))

	assert.False(t, ScalarEqual(float64(1<<63), int64(math.MinInt64)))
	assert.True(t, ScalarEqual(uint64(1<<63), float64(1<<63)))
}

func TestScalarSet(t *testing.T) {
	s := make(scalarSet)
	s.add(Multi(1, "a"))
	assert.True(t, s.has(1.0))
	assert.True(t, s.has("a"))
	assert.False(t, s.has("b"))
	assert.True(t, s.intersects(Multi("b", int64(1))))
	assert.False(t, s.intersects(Multi()))
}

func TestValueFilter_KeepsShape(t *testing.T) {
	drop := func(Scalar) bool { return false }
	assert.False(t, Single("a").filter(drop).IsSet())

	emptied := Multi("a", "b").filter(drop)
	assert.True(t, emptied.IsSet())
	assert.True(t, emptied.IsList())
	assert.True(t, emptied.IsEmpty())

	assert.False(t, Value{}.filter(drop).IsSet())
}

// --- Config Tests ---

func TestConfigValidate_Defaults(t *testing.T) {
	var cfg Config
	cfg.validate()

	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Scheduler)
	assert.Equal(t, 8, cfg.ReloadConcurrency)
	assert.Zero(t, cfg.LoadTimeout)
}

func TestConfigValidate_Clamps(t *testing.T) {
	cfg := Config{ReloadConcurrency: 1000, LoadTimeout: -1}
	cfg.validate()
	assert.Equal(t, 64, cfg.ReloadConcurrency)
	assert.Zero(t, cfg.LoadTimeout)

	cfg = Config{ReloadConcurrency: 64}
	cfg.validate()
	assert.Equal(t, 64, cfg.ReloadConcurrency)
}

// --- cascade Tests ---

func staticOptions(fields []FieldConfig) func(string) []Option {
	byName := make(map[string][]Option)
	for _, f := range fields {
		byName[f.Name] = f.Options.StaticOptions()
	}
	return func(name string) []Option { return byName[name] }
}

func TestCascade_ClearsWhenParentEmpty(t *testing.T) {
	fields := []FieldConfig{
		{Name: "country"},
		{Name: "province", DependsOn: []string{"country"}},
		{Name: "tags", DependsOn: []string{"country"}, Mode: ModeMultiple},
	}
	reg := NewRegistry(fields, nil)
	next := Values{"province": Single("HCM"), "tags": Multi("x")}

	records := cascade(reg, next, []string{"country"}, staticOptions(fields))

	require.Len(t, records, 2)
	assert.False(t, next["province"].IsSet())
	assert.True(t, next["tags"].Equal(Multi()))
}

func TestCascade_BluntWithoutParentDeclarations(t *testing.T) {
	fields := []FieldConfig{
		{Name: "country"},
		{Name: "province", DependsOn: []string{"country"}, Options: Static(
			Option{Label: "HCM", Value: "HCM"},
		)},
	}
	reg := NewRegistry(fields, nil)
	next := Values{"country": Single("TH"), "province": Single("HCM")}

	records := cascade(reg, next, []string{"country"}, staticOptions(fields))

	require.Len(t, records, 1)
	assert.Equal(t, "province", records[0].Field)
	assert.False(t, next["province"].IsSet())
}

func TestCascade_SelectiveKeepsJustified(t *testing.T) {
	fields := []FieldConfig{
		{Name: "country", Mode: ModeMultiple},
		{Name: "province", DependsOn: []string{"country"}, Mode: ModeMultiple, Options: Static(
			Option{Label: "Ho Chi Minh", Value: "HCM", ParentValue: Single("VN")},
			Option{Label: "Bangkok", Value: "BKK", ParentValue: Single("TH")},
			Option{Label: "Anywhere", Value: "ANY"},
		)},
	}
	reg := NewRegistry(fields, nil)
	next := Values{
		"country":  Multi("VN"),
		"province": Multi("HCM", "BKK", "ANY", "GONE"),
	}

	records := cascade(reg, next, []string{"country"}, staticOptions(fields))

	require.Len(t, records, 1)
	assert.True(t, next["province"].Equal(Multi("HCM", "ANY")))
}

func TestCascade_UnchangedValueNotRecorded(t *testing.T) {
	fields := []FieldConfig{
		{Name: "country", Mode: ModeMultiple},
		{Name: "province", DependsOn: []string{"country"}, Options: Static(
			Option{Label: "Ho Chi Minh", Value: "HCM", ParentValue: Single("VN")},
		)},
	}
	reg := NewRegistry(fields, nil)
	next := Values{"country": Multi("VN", "TH"), "province": Single("HCM")}

	records := cascade(reg, next, []string{"country"}, staticOptions(fields))

	assert.Empty(t, records)
	assert.True(t, next["province"].Equal(Single("HCM")))
}

func TestCascade_Transitive(t *testing.T) {
	fields := []FieldConfig{
		{Name: "country"},
		{Name: "province", DependsOn: []string{"country"}},
		{Name: "city", DependsOn: []string{"province"}},
	}
	reg := NewRegistry(fields, nil)
	next := Values{"province": Single("HCM"), "city": Single("D1")}

	records := cascade(reg, next, []string{"country"}, staticOptions(fields))

	require.Len(t, records, 2)
	assert.Equal(t, "province", records[0].Field)
	assert.Equal(t, "city", records[1].Field)
}

func TestCascade_SkipsEmptyDependents(t *testing.T) {
	fields := []FieldConfig{
		{Name: "country"},
		{Name: "province", DependsOn: []string{"country"}},
	}
	reg := NewRegistry(fields, nil)
	next := Values{"province": Multi()}

	assert.Empty(t, cascade(reg, next, []string{"country"}, staticOptions(fields)))
}

// --- justified Tests ---

func TestJustified(t *testing.T) {
	union := make(scalarSet)
	union.add(Multi("p1", "u1"))
	byField := map[string]scalarSet{
		"post": {"p1": {}},
		"user": {"u1": {}},
	}

	tests := []struct {
		name string
		opt  Option
		want bool
	}{
		{"no declaration", Option{Value: "x"}, true},
		{"empty list declaration", Option{Value: "x", ParentValue: Multi()}, true},
		{"matching single", Option{Value: "x", ParentValue: Single("p1")}, true},
		{"non-matching single", Option{Value: "x", ParentValue: Single("p9")}, false},
		{"matching list member", Option{Value: "x", ParentValue: Multi("p9", "u1")}, true},
		{"keyed match", Option{Value: "x", ParentValues: map[string]Value{"user": Single("u1")}}, true},
		{"keyed wrong field", Option{Value: "x", ParentValues: map[string]Value{"post": Single("u1")}}, false},
		{"keyed uninformative", Option{Value: "x", ParentValues: map[string]Value{"post": Multi()}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, justified(tt.opt, union, byField))
		})
	}
}

// --- notifier Tests ---

func TestNotifier_MarkIncludesChildren(t *testing.T) {
	reg := NewRegistry([]FieldConfig{
		{Name: "country"},
		{Name: "province", DependsOn: []string{"country"}},
		{Name: "city", DependsOn: []string{"province"}},
	}, nil)
	n := newNotifier()
	var got []string
	for _, name := range reg.Names() {
		n.addLocked(name, func(f string) { got = append(got, f) })
	}

	assert.True(t, n.markLocked(reg, "country"))
	// already scheduled
	assert.False(t, n.markLocked(reg, "country"))

	for _, d := range n.takeLocked(reg) {
		d.listener(d.field)
	}
	assert.Equal(t, []string{"country", "province"}, got)

	// pending set was cleared and a new batch can be scheduled
	assert.Empty(t, n.takeLocked(reg))
	assert.True(t, n.markLocked(reg, "city"))
}

func TestNotifier_Remove(t *testing.T) {
	reg := NewRegistry([]FieldConfig{{Name: "a"}}, nil)
	n := newNotifier()
	calls := 0
	id := n.addLocked("a", func(string) { calls++ })
	n.addLocked("a", func(string) { calls += 10 })
	n.removeLocked("a", id)

	n.markLocked(reg, "a")
	for _, d := range n.takeLocked(reg) {
		d.listener(d.field)
	}
	assert.Equal(t, 10, calls)
}

func TestManualScheduler_FlushRunsNested(t *testing.T) {
	m := NewManualScheduler()
	var order []int
	m.Schedule(func() {
		order = append(order, 1)
		m.Schedule(func() { order = append(order, 2) })
	})
	assert.Equal(t, 1, m.Pending())
	assert.Equal(t, 2, m.Flush())
	assert.Equal(t, []int{1, 2}, order)
	assert.Zero(t, m.Pending())
}

func TestStore_FlushWhileDeliveringIsDeferred(t *testing.T) {
	sched := NewManualScheduler()
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Scheduler = sched
	s := New([]FieldConfig{{Name: "a"}}, nil, cfg)
	defer s.Destroy()

	calls := 0
	s.Subscribe("a", func(string) { calls++ })
	s.SetValue("a", Single(1))

	s.mu.Lock()
	s.delivering = true
	s.mu.Unlock()

	assert.Equal(t, 1, sched.Flush())
	assert.Zero(t, calls)
	assert.True(t, s.redeliver)

	s.endDelivery()
	assert.Equal(t, 1, sched.Flush())
	assert.Equal(t, 1, calls)
	assert.False(t, s.delivering)
	assert.False(t, s.redeliver)
}

func TestStore_DestroyClearsLoadState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Scheduler = NewManualScheduler()
	block := func(ctx context.Context, _ ParentValues) ([]Option, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := New([]FieldConfig{
		{Name: "a", Options: Static(Option{Value: 1}, Option{Value: 2})},
		{Name: "b", DependsOn: []string{"a"}, Options: Dynamic(block)},
	}, Values{"a": Single(1)}, cfg)

	s.RetractOption("a", 2)
	require.True(t, s.IsLoading("b"))

	s.Destroy()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.retracted)
	assert.Empty(t, s.inflight)
	assert.Empty(t, s.loading)
	assert.Empty(t, s.loaded)
}
