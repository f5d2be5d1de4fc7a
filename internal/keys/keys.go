// Package keys computes the canonical keys used to cache and de-duplicate
// option loads, and the partition keys of the relationship table.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/fnv"

	json "github.com/goccy/go-json"
)

// Parents serializes parent values into a canonical string. Map keys are
// sorted, so two structurally equal inputs always produce the same key.
func Parents(parents any) string {
	data, err := json.Marshal(parents)
	if err != nil {
		// Only non-serializable scalars get here; fall back to Go syntax,
		// which is still deterministic for sorted maps.
		return fmt.Sprintf("%#v", parents)
	}
	return string(data)
}

// Load computes the de-duplication key for loading the options of field
// under the given parent values.
func Load(field string, parents any) string {
	h := sha256.Sum256([]byte(Parents(parents)))
	return field + "#" + hex.EncodeToString(h[:16])
}

// ShardPK computes the relationship table partition key of one shard of a
// parent. With numShards=1 every child lives under shard "00".
func ShardPK(parentRef string, shard int) string {
	return fmt.Sprintf("%s#%02x", parentRef, shard)
}

// ShardOf returns the shard a child reference is stored in.
func ShardOf(childRef string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(childRef))
	return int(h.Sum32() % uint32(numShards))
}
