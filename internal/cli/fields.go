package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacentio/cascader/schema"
	"github.com/jacentio/cascader/source/dynamo"
	"github.com/jacentio/cascader/store"
)

var errNoSchema = errors.New("no schema given (use --schema or CASCADER_SCHEMA)")

// addDynamoFlags registers the flags that back option-less fields with the
// DynamoDB relationship table.
func addDynamoFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("dynamo-table", "", "relationship table loading fields that declare no options")
	f.Int("dynamo-shards", 1, "number of relationship table shards")
	f.String("dynamo-endpoint", "", "DynamoDB endpoint override, e.g. http://localhost:8000")
	f.String("aws-profile", "", "AWS shared config profile")
}

// loadFields reads the schema and builds field configurations. When a
// relationship table is configured, fields without options load from it.
func loadFields(ctx context.Context, v *viper.Viper, logger *slog.Logger) ([]store.FieldConfig, error) {
	path := v.GetString("schema")
	if path == "" {
		return nil, errNoSchema
	}
	s, err := schema.LoadFile(path)
	if err != nil {
		return nil, err
	}

	opts := schema.BuildOptions{Logger: logger}
	if table := v.GetString("dynamo-table"); table != "" {
		src, err := newDynamoSource(ctx, v, logger)
		if err != nil {
			return nil, err
		}
		opts.Fallback = src.Options
	}
	return s.FieldConfigs(opts)
}

func newDynamoSource(ctx context.Context, v *viper.Viper, logger *slog.Logger) (*dynamo.Source, error) {
	var loadOpts []func(*config.LoadOptions) error
	if profile := v.GetString("aws-profile"); profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	endpoint := v.GetString("dynamo-endpoint")
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	cfg := dynamo.DefaultConfig()
	cfg.RelationshipTable = v.GetString("dynamo-table")
	cfg.NumShards = v.GetInt("dynamo-shards")
	return dynamo.New(client, cfg, logger), nil
}
