package dynamo_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/cascader/source/dynamo"
	"github.com/jacentio/cascader/store"
)

// --- Fake Client ---

// fakeClient keeps rows in memory keyed by partition key. Filter
// expressions are not evaluated.
type fakeClient struct {
	mu      sync.Mutex
	rows    map[string][]map[string]types.AttributeValue
	queries []string
	failPK  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{rows: make(map[string][]map[string]types.AttributeValue)}
}

func (f *fakeClient) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	f.queries = append(f.queries, pk)
	if pk == f.failPK {
		return nil, errors.New("throttled")
	}
	return &dynamodb.QueryOutput{Items: f.rows[pk]}, nil
}

func (f *fakeClient) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.Item["pk"].(*types.AttributeValueMemberS).Value
	f.rows[pk] = append(f.rows[pk], in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeClient) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.Key["pk"].(*types.AttributeValueMemberS).Value
	childRef := in.Key["child_ref"].(*types.AttributeValueMemberS).Value
	for _, item := range f.rows[pk] {
		if item["child_ref"].(*types.AttributeValueMemberS).Value == childRef {
			item["ttl"] = in.ExpressionAttributeValues[":ttl"]
		}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, src *dynamo.Source) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, src.Put(ctx, "", nil, "country", store.Option{Label: "Vietnam", Value: "VN"}))
	require.NoError(t, src.Put(ctx, "", nil, "country", store.Option{Label: "Thailand", Value: "TH"}))
	require.NoError(t, src.Put(ctx, "country", "VN", "province", store.Option{Label: "Ho Chi Minh", Value: "HCM"}))
	require.NoError(t, src.Put(ctx, "country", "VN", "province", store.Option{Label: "Ha Noi", Value: "HN"}))
	require.NoError(t, src.Put(ctx, "country", "TH", "province", store.Option{Label: "Bangkok", Value: "BKK"}))
}

// --- Config Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := dynamo.DefaultConfig()
	assert.Equal(t, "cascader_relationships", cfg.RelationshipTable)
	assert.Equal(t, 1, cfg.NumShards)
	assert.Equal(t, "root", cfg.RootRef)
}

// --- Ref Tests ---

func TestRef(t *testing.T) {
	assert.Equal(t, "country#VN", dynamo.Ref("country", "VN"))
	assert.Equal(t, "user#1", dynamo.Ref("user", 1.0))

	field, value, ok := dynamo.ParseRef("province#HCM")
	require.True(t, ok)
	assert.Equal(t, "province", field)
	assert.Equal(t, "HCM", value)

	_, _, ok = dynamo.ParseRef("root")
	assert.False(t, ok)
}

func TestIsRetired(t *testing.T) {
	past := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	future := strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)

	assert.False(t, dynamo.IsRetired(map[string]types.AttributeValue{}))
	assert.True(t, dynamo.IsRetired(map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: past}}))
	assert.False(t, dynamo.IsRetired(map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: future}}))
	assert.False(t, dynamo.IsRetired(map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberS{Value: past}}))
}

// --- Load Tests ---

func TestSource_LoadRoot(t *testing.T) {
	client := newFakeClient()
	src := dynamo.New(client, dynamo.DefaultConfig(), quietLogger())
	seed(t, src)

	opts, err := src.Load(context.Background(), "country", nil)
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "Vietnam", opts[0].Label)
	assert.False(t, opts[0].DeclaresParent())
	assert.Equal(t, []string{"root#00"}, client.queries)
}

func TestSource_LoadUnderParents(t *testing.T) {
	client := newFakeClient()
	src := dynamo.New(client, dynamo.DefaultConfig(), quietLogger())
	seed(t, src)

	opts, err := src.Load(context.Background(), "province", store.ParentValues{
		"country": store.Multi("VN", "TH"),
	})
	require.NoError(t, err)
	require.Len(t, opts, 3)

	byValue := make(map[any]store.Option)
	for _, o := range opts {
		byValue[o.Value] = o
	}
	assert.True(t, byValue["HCM"].ParentValue.Equal(store.Multi("VN")))
	assert.True(t, byValue["BKK"].ParentValue.Equal(store.Multi("TH")))
}

func TestSource_LoadMultiParent(t *testing.T) {
	client := newFakeClient()
	src := dynamo.New(client, dynamo.DefaultConfig(), quietLogger())
	ctx := context.Background()
	require.NoError(t, src.Put(ctx, "user", 1, "comment", store.Option{Value: "c1"}))
	require.NoError(t, src.Put(ctx, "task", 9, "comment", store.Option{Value: "c1"}))
	require.NoError(t, src.Put(ctx, "task", 9, "comment", store.Option{Value: "c2"}))

	opts, err := src.Load(ctx, "comment", store.ParentValues{
		"user": store.Multi(1),
		"task": store.Multi(9),
	})
	require.NoError(t, err)
	require.Len(t, opts, 2)

	for _, o := range opts {
		switch o.Value {
		case "c1":
			assert.True(t, o.ParentValues["user"].Equal(store.Multi(1)))
			assert.True(t, o.ParentValues["task"].Equal(store.Multi(9)))
		case "c2":
			assert.NotContains(t, o.ParentValues, "user")
			assert.True(t, o.ParentValues["task"].Equal(store.Multi(9)))
			assert.Equal(t, "c2", o.Label)
		default:
			t.Errorf("unexpected option %v", o.Value)
		}
	}
}

func TestSource_MultiParentOrderStable(t *testing.T) {
	client := newFakeClient()
	src := dynamo.New(client, dynamo.DefaultConfig(), quietLogger())
	ctx := context.Background()
	require.NoError(t, src.Put(ctx, "user", 1, "comment", store.Option{Value: "c2"}))
	require.NoError(t, src.Put(ctx, "task", 9, "comment", store.Option{Value: "c1"}))

	parents := store.ParentValues{
		"user": store.Multi(1),
		"task": store.Multi(9),
	}
	for range 20 {
		opts, err := src.Load(ctx, "comment", parents)
		require.NoError(t, err)
		require.Len(t, opts, 2)
		// parents are looked up in name order: task before user
		assert.Equal(t, "c1", opts[0].Value)
		assert.Equal(t, "c2", opts[1].Value)
	}
}

func TestSource_RetiredRowsSkipped(t *testing.T) {
	client := newFakeClient()
	src := dynamo.New(client, dynamo.DefaultConfig(), quietLogger())
	seed(t, src)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute).Unix()
	require.NoError(t, src.Retire(ctx, "country#VN", "province#HN", past))

	opts, err := src.Load(ctx, "province", store.ParentValues{"country": store.Single("VN")})
	require.NoError(t, err)
	require.Len(t, opts, 1)
	assert.Equal(t, "HCM", opts[0].Value)
}

func TestSource_ShardFanOut(t *testing.T) {
	client := newFakeClient()
	cfg := dynamo.DefaultConfig()
	cfg.NumShards = 4
	src := dynamo.New(client, cfg, quietLogger())
	seed(t, src)
	client.queries = nil

	opts, err := src.Load(context.Background(), "province", store.ParentValues{"country": store.Single("VN")})
	require.NoError(t, err)
	assert.Len(t, opts, 2)
	assert.ElementsMatch(t, []string{"country#VN#00", "country#VN#01", "country#VN#02", "country#VN#03"}, client.queries)
}

func TestSource_QueryErrorPropagates(t *testing.T) {
	client := newFakeClient()
	client.failPK = "country#VN#00"
	src := dynamo.New(client, dynamo.DefaultConfig(), quietLogger())

	_, err := src.Load(context.Background(), "province", store.ParentValues{"country": store.Single("VN")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

// --- Store Integration ---

func TestSource_AsStoreLoader(t *testing.T) {
	client := newFakeClient()
	src := dynamo.New(client, dynamo.DefaultConfig(), quietLogger())
	seed(t, src)

	cfg := store.DefaultConfig()
	cfg.Logger = quietLogger()
	s := store.New([]store.FieldConfig{
		{Name: "country", Options: store.Dynamic(src.Options("country"))},
		{Name: "province", DependsOn: []string{"country"}, Mode: store.ModeMultiple, Options: store.Dynamic(src.Options("province"))},
	}, store.Values{"country": store.Single("TH")}, cfg)
	defer s.Destroy()

	require.NoError(t, s.Reload(context.Background()))
	require.Eventually(t, func() bool {
		return len(s.Options("country", nil)) == 2 && len(s.Options("province", nil)) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "BKK", s.Options("province", nil)[0].Value)
}
