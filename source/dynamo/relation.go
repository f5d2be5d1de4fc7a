package dynamo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/cascader/store"
)

// Relation is one row of the relationship table: an option of Field that is
// available when the parent referenced by ParentRef is selected.
type Relation struct {
	// PK is the sharded partition key, computed from ParentRef.
	PK string `dynamodbav:"pk"`

	// ChildRef references the option itself ("field#value").
	ChildRef string `dynamodbav:"child_ref"`

	// ParentRef references the parent selection ("field#value"), or the
	// configured root reference for options of root fields.
	ParentRef string `dynamodbav:"parent_ref"`

	// Field is the name of the field the option belongs to.
	Field string `dynamodbav:"field"`

	// Label is the display text. Defaults to the value.
	Label string `dynamodbav:"label,omitempty"`

	// Value is the option scalar, stored as S or N.
	Value any `dynamodbav:"value"`

	// TTL marks the row as retired once it is in the past.
	TTL int64 `dynamodbav:"ttl,omitempty"`
}

// Option converts the row into a store option without parent information.
func (r Relation) Option() store.Option {
	label := r.Label
	if label == "" {
		label = fmt.Sprint(r.Value)
	}
	return store.Option{Label: label, Value: store.Single(r.Value).Scalar()}
}

// Ref builds the reference of a field value as used in ParentRef and ChildRef.
func Ref(field string, value store.Scalar) string {
	return field + "#" + fmt.Sprint(store.Single(value).Scalar())
}

// ParseRef splits a reference into its field and value text.
func ParseRef(ref string) (field, value string, ok bool) {
	return strings.Cut(ref, "#")
}

// IsRetired reports whether a raw row carries a TTL in the past.
func IsRetired(item map[string]types.AttributeValue) bool {
	ttlAttr, exists := item["ttl"]
	if !exists {
		return false
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= time.Now().Unix()
}

// ttlFilterExpr excludes retired rows from queries.
func ttlFilterExpr() string {
	return "attribute_not_exists(#ttl) OR #ttl > :now"
}

func ttlFilterNames() map[string]string {
	return map[string]string{"#ttl": "ttl"}
}

func ttlFilterValues(now time.Time) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
	}
}
