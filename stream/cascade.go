// Package stream mirrors changes of a DynamoDB relationship table into live
// stores through DynamoDB Streams.
//
// A row that is removed, or whose TTL is newly set, means the option it
// describes no longer exists: the option is retracted, deselecting it and
// cascading to dependent fields. A newly inserted row invalidates the
// field's loaded options so they are fetched again.
package stream

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/cascader/source/dynamo"
	"github.com/jacentio/cascader/store"
)

// Target receives option changes. *store.Store implements it.
type Target interface {
	RetractOption(field string, value store.Scalar)
	Invalidate(field string)
}

// Handler processes DynamoDB stream events of the relationship table.
type Handler struct {
	target Target
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(target Target, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		target: target,
		logger: logger,
	}
}

// HandleStream processes DynamoDB stream events. It can be used directly as
// an AWS Lambda handler. Records that do not describe an option are logged
// and skipped.
func (h *Handler) HandleStream(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := ctx.Err(); err != nil {
			return err
		}
		h.processRecord(record)
	}
	return nil
}

// processRecord applies a single stream record.
func (h *Handler) processRecord(record events.DynamoDBEventRecord) {
	if h.target == nil {
		return
	}

	switch record.EventName {
	case "INSERT":
		field, _, ok := h.option(record.EventID, record.Change.NewImage)
		if !ok {
			return
		}
		h.logger.Info("option added, invalidating", "field", field, "eventID", record.EventID)
		h.target.Invalidate(field)

	case "MODIFY":
		oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
		newTTL := getNumberAttr(record.Change.NewImage, "ttl")

		// Only process when TTL is newly set (was absent/0, now present)
		if oldTTL != 0 || newTTL == 0 {
			return
		}
		h.retract(record.EventID, record.Change.NewImage, newTTL)

	case "REMOVE":
		// Rows already retired by TTL were handled when the TTL was set
		if getNumberAttr(record.Change.OldImage, "ttl") != 0 {
			return
		}
		h.retract(record.EventID, record.Change.OldImage, 0)
	}
}

func (h *Handler) retract(eventID string, image map[string]events.DynamoDBAttributeValue, ttl int64) {
	field, value, ok := h.option(eventID, image)
	if !ok {
		return
	}
	h.logger.Info("option removed, retracting",
		"field", field,
		"value", value,
		"parentRef", getStringAttr(image, "parent_ref"),
		"ttl", ttl,
	)
	h.target.RetractOption(field, value)
}

// option extracts the field and value a row describes. The field comes from
// the "field" attribute, falling back to the child reference.
func (h *Handler) option(eventID string, image map[string]events.DynamoDBAttributeValue) (string, store.Scalar, bool) {
	childRef := getStringAttr(image, "child_ref")
	field := getStringAttr(image, "field")
	refField, refValue, hasRef := dynamo.ParseRef(childRef)
	if field == "" {
		field = refField
	}

	value, ok := getScalarAttr(image, "value")
	if !ok && hasRef {
		value, ok = refValue, true
	}

	if field == "" || !ok {
		h.logger.Warn("skipping record without option",
			"eventID", eventID,
			"childRef", childRef,
		)
		return "", nil, false
	}
	return field, value, true
}

// getStringAttr extracts a string attribute from a DynamoDB stream image.
func getStringAttr(image map[string]events.DynamoDBAttributeValue, key string) string {
	if v, ok := image[key]; ok && v.DataType() == events.DataTypeString {
		return v.String()
	}
	return ""
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// getScalarAttr extracts a string or number attribute as a normalized scalar.
func getScalarAttr(image map[string]events.DynamoDBAttributeValue, key string) (store.Scalar, bool) {
	v, ok := image[key]
	if !ok {
		return nil, false
	}
	switch v.DataType() {
	case events.DataTypeString:
		return v.String(), true
	case events.DataTypeNumber:
		if n, err := strconv.ParseInt(v.Number(), 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(v.Number(), 64); err == nil {
			return store.Single(f).Scalar(), true
		}
	}
	return nil, false
}
