package store_test

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/cascader/store"
)

func TestValue_Shapes(t *testing.T) {
	var absent store.Value
	assert.False(t, absent.IsSet())
	assert.True(t, absent.IsEmpty())

	single := store.Single("VN")
	assert.True(t, single.IsSet())
	assert.False(t, single.IsList())
	assert.Equal(t, "VN", single.Scalar())

	empty := store.Multi()
	assert.True(t, empty.IsSet())
	assert.True(t, empty.IsList())
	assert.True(t, empty.IsEmpty())

	assert.False(t, store.Single(nil).IsSet())
}

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b store.Value
		want bool
	}{
		{"absent vs absent", store.Value{}, store.Value{}, true},
		{"absent vs empty list", store.Value{}, store.Multi(), false},
		{"same scalar", store.Single("a"), store.Single("a"), true},
		{"different scalar", store.Single("a"), store.Single("b"), false},
		{"numeric kinds", store.Single(1), store.Single(int64(1)), true},
		{"integral float", store.Single(2.0), store.Single(2), true},
		{"number vs string", store.Single(1), store.Single("1"), false},
		{"same list", store.Multi("a", "b"), store.Multi("a", "b"), true},
		{"list order matters", store.Multi("a", "b"), store.Multi("b", "a"), false},
		{"list length", store.Multi("a"), store.Multi("a", "b"), false},
		{"single vs list", store.Single("a"), store.Multi("a"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Equal(tt.b))
			assert.Equal(t, tt.want, tt.b.Equal(tt.a))
		})
	}
}

func TestValue_ItemsIsCopy(t *testing.T) {
	v := store.Multi("a", "b")
	items := v.Items()
	items[0] = "z"
	assert.True(t, v.Equal(store.Multi("a", "b")))
	assert.True(t, v.Contains("a"))
	assert.False(t, v.Contains("z"))
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "<absent>", store.Value{}.String())
	assert.Equal(t, "VN", store.Single("VN").String())
	assert.Equal(t, "[1,2.5]", store.Multi(1, 2.5).String())
	assert.Equal(t, "[]", store.Multi().String())
}

func TestValueOf(t *testing.T) {
	v, err := store.ValueOf(nil)
	require.NoError(t, err)
	assert.False(t, v.IsSet())

	v, err = store.ValueOf([]any{"a", float64(3)})
	require.NoError(t, err)
	assert.True(t, v.Equal(store.Multi("a", 3)))

	v, err = store.ValueOf([]string{"x"})
	require.NoError(t, err)
	assert.True(t, v.Equal(store.Multi("x")))

	_, err = store.ValueOf(map[string]any{"a": 1})
	assert.True(t, errors.Is(err, store.ErrInvalidValue))

	_, err = store.ValueOf([]any{[]any{"nested"}})
	assert.True(t, errors.Is(err, store.ErrInvalidValue))
}

func TestValue_JSON(t *testing.T) {
	data, err := json.Marshal(store.Values{
		"country": store.Single("VN"),
		"tags":    store.Multi(1, 2),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"country":"VN","tags":[1,2]}`, string(data))

	var decoded struct {
		Country store.Value `json:"country"`
		Tags    store.Value `json:"tags"`
		None    store.Value `json:"none"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"country":"VN","tags":[1,2],"none":null}`), &decoded))
	assert.True(t, decoded.Country.Equal(store.Single("VN")))
	assert.True(t, decoded.Tags.Equal(store.Multi(1, 2)))
	assert.False(t, decoded.None.IsSet())
}

func TestValues_Clone(t *testing.T) {
	v := store.Values{"a": store.Single(1)}
	c := v.Clone()
	c["b"] = store.Single(2)
	assert.Len(t, v, 1)
	assert.Len(t, c, 2)
}
