package dynamo

// Config holds configuration for the DynamoDB option source.
type Config struct {
	// RelationshipTable is the name of the relationship table.
	// Default: "cascader_relationships"
	RelationshipTable string

	// NumShards is the number of shards rows of one parent are spread over.
	// Reads query every shard in parallel.
	// Default: 1 (no sharding, single query)
	// Max: 256
	NumShards int

	// RootRef is the parent reference under which options of root fields
	// (fields without parents) are stored.
	// Default: "root"
	RootRef string
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		RelationshipTable: "cascader_relationships",
		NumShards:         1,
		RootRef:           "root",
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.RelationshipTable == "" {
		c.RelationshipTable = "cascader_relationships"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > 256 {
		c.NumShards = 256
	}
	if c.RootRef == "" {
		c.RootRef = "root"
	}
}
