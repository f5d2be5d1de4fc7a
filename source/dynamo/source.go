// Package dynamo loads field options from a DynamoDB relationship table.
//
// Each row links a parent selection to one option of a dependent field.
// Rows are sharded by child reference under "<parentRef>#<shard>" partition
// keys and retired by setting a TTL, which DynamoDB later expires.
package dynamo

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/cascader/internal/keys"
	"github.com/jacentio/cascader/store"
)

// Client is the subset of the DynamoDB API the source uses.
type Client interface {
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Source reads and writes option rows.
type Source struct {
	client Client
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Source.
func New(client Client, config Config, logger *slog.Logger) *Source {
	config.validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		client: client,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Options returns a LoadFunc loading the options of field.
func (s *Source) Options(field string) store.LoadFunc {
	return func(ctx context.Context, parents store.ParentValues) ([]store.Option, error) {
		return s.Load(ctx, field, parents)
	}
}

// Load returns the live options of field for the given parent values.
// Options found under several parent values are merged; each carries the
// parent value(s) it was found under, as ParentValue for single-parent
// fields and as ParentValues otherwise.
func (s *Source) Load(ctx context.Context, field string, parents store.ParentValues) ([]store.Option, error) {
	type lookup struct {
		parent string
		value  store.Scalar
		ref    string
	}
	var lookups []lookup
	if len(parents) == 0 {
		lookups = append(lookups, lookup{ref: s.config.RootRef})
	}
	for _, parent := range slices.Sorted(maps.Keys(parents)) {
		for _, item := range parents[parent].Items() {
			lookups = append(lookups, lookup{parent: parent, value: item, ref: Ref(parent, item)})
		}
	}

	results := make([][]Relation, len(lookups))
	g, ctx := errgroup.WithContext(ctx)
	for i, l := range lookups {
		g.Go(func() error {
			rows, err := s.Children(ctx, l.ref)
			if err != nil {
				return fmt.Errorf("load %s under %s: %w", field, l.ref, err)
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	multi := len(parents) > 1
	var out []store.Option
	index := make(map[string]int)
	found := make(map[string]map[string][]store.Scalar)
	for i, rows := range results {
		l := lookups[i]
		for _, row := range rows {
			if row.Field != "" && row.Field != field {
				continue
			}
			if _, seen := index[row.ChildRef]; !seen {
				index[row.ChildRef] = len(out)
				out = append(out, row.Option())
				found[row.ChildRef] = make(map[string][]store.Scalar)
			}
			if l.parent != "" {
				found[row.ChildRef][l.parent] = append(found[row.ChildRef][l.parent], l.value)
			}
		}
	}

	for ref, byParent := range found {
		opt := &out[index[ref]]
		for parent, values := range byParent {
			if multi {
				if opt.ParentValues == nil {
					opt.ParentValues = make(map[string]store.Value)
				}
				opt.ParentValues[parent] = store.Multi(values...)
			} else {
				opt.ParentValue = store.Multi(values...)
			}
		}
	}

	s.logger.Debug("options loaded", "field", field, "lookups", len(lookups), "options", len(out))
	return out, nil
}

// Children returns the live rows stored under parentRef across all shards.
func (s *Source) Children(ctx context.Context, parentRef string) ([]Relation, error) {
	// Fast path for single shard (default)
	if s.config.NumShards == 1 {
		return s.queryShard(ctx, keys.ShardPK(parentRef, 0))
	}

	// Multi-shard fan-out
	var mu sync.Mutex
	var all []Relation
	g, ctx := errgroup.WithContext(ctx)
	for shardNum := 0; shardNum < s.config.NumShards; shardNum++ {
		g.Go(func() error {
			rows, err := s.queryShard(ctx, keys.ShardPK(parentRef, shardNum))
			if err != nil {
				return fmt.Errorf("shard %02x: %w", shardNum, err)
			}
			mu.Lock()
			all = append(all, rows...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *Source) queryShard(ctx context.Context, shardPK string) ([]Relation, error) {
	values := ttlFilterValues(s.now())
	values[":pk"] = &types.AttributeValueMemberS{Value: shardPK}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.RelationshipTable),
		KeyConditionExpression:    aws.String("pk = :pk"),
		FilterExpression:          aws.String(ttlFilterExpr()),
		ExpressionAttributeNames:  ttlFilterNames(),
		ExpressionAttributeValues: values,
	})

	var rows []Relation
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			if IsRetired(item) {
				continue
			}
			var row Relation
			if err := attributevalue.UnmarshalMap(item, &row); err != nil {
				s.logger.Warn("skipping malformed relationship row", "pk", shardPK, "error", err)
				continue
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// Put stores an option of field under a parent value. An empty parentField
// stores it under the root reference.
func (s *Source) Put(ctx context.Context, parentField string, parentValue store.Scalar, field string, opt store.Option) error {
	parentRef := s.config.RootRef
	if parentField != "" {
		parentRef = Ref(parentField, parentValue)
	}
	childRef := Ref(field, opt.Value)
	row := Relation{
		PK:        s.relationshipPK(parentRef, childRef),
		ChildRef:  childRef,
		ParentRef: parentRef,
		Field:     field,
		Label:     opt.Label,
		Value:     store.Single(opt.Value).Scalar(),
	}
	item, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("marshal relation: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.RelationshipTable),
		Item:      item,
	})
	return err
}

// Retire sets the TTL of a row, hiding it from subsequent loads.
func (s *Source) Retire(ctx context.Context, parentRef, childRef string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.RelationshipTable),
		Key: map[string]types.AttributeValue{
			"pk":        &types.AttributeValueMemberS{Value: s.relationshipPK(parentRef, childRef)},
			"child_ref": &types.AttributeValueMemberS{Value: childRef},
		},
		UpdateExpression:          aws.String("SET #ttl = :ttl"),
		ExpressionAttributeNames:  ttlFilterNames(),
		ExpressionAttributeValues: map[string]types.AttributeValue{":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)}},
	})
	return err
}

// relationshipPK computes the sharded partition key for a row.
func (s *Source) relationshipPK(parentRef, childRef string) string {
	return keys.ShardPK(parentRef, keys.ShardOf(childRef, s.config.NumShards))
}
