package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Bucket names used when a snapshot is split for durable storage.
const (
	BucketContainers = "containers"
	BucketLocations  = "locations"
	BucketSamples    = "samples"
	BucketSubSamples = "subsamples"
	BucketTemplates  = "templates"
	BucketMeta       = "meta"
)

// Buckets lists the snapshot buckets in persistence order.
var Buckets = []string{BucketContainers, BucketLocations, BucketSamples, BucketSubSamples, BucketTemplates, BucketMeta}

type snapshotMeta struct {
	NextID int64 `json:"next_id"`
}

func (s *Snapshot) bucketTarget(bucket string) (any, bool) {
	switch bucket {
	case BucketContainers:
		return &s.Containers, true
	case BucketLocations:
		return &s.Locations, true
	case BucketSamples:
		return &s.Samples, true
	case BucketSubSamples:
		return &s.SubSamples, true
	case BucketTemplates:
		return &s.Templates, true
	}
	return nil, false
}

// EncodeBuckets serialises every bucket of the snapshot as JSON.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		if bucket == BucketMeta {
			data, err = json.Marshal(snapshotMeta{NextID: snapshot.NextID})
		} else {
			target, _ := snapshot.bucketTarget(bucket)
			data, err = json.Marshal(target)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket merges one persisted bucket into the snapshot. Unknown buckets
// are ignored so older databases keep loading.
func DecodeBucket(snapshot *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if bucket == BucketMeta {
		var meta snapshotMeta
		if err := json.Unmarshal(payload, &meta); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		snapshot.NextID = meta.NextID
		return nil
	}
	target, ok := snapshot.bucketTarget(bucket)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

// BucketCache remembers the last persisted encoding of every bucket so durable
// stores only rewrite what changed. The zero value is ready to use; callers
// serialise access.
type BucketCache struct {
	written map[string][]byte
}

// Pending encodes snapshot and returns the buckets whose bytes differ from the
// last Mark.
func (c *BucketCache) Pending(snapshot Snapshot) (map[string][]byte, error) {
	encoded, err := EncodeBuckets(snapshot)
	if err != nil {
		return nil, err
	}
	for bucket, data := range encoded {
		if prev, ok := c.written[bucket]; ok && bytes.Equal(prev, data) {
			delete(encoded, bucket)
		}
	}
	return encoded, nil
}

// Mark records buckets as durably written.
func (c *BucketCache) Mark(buckets map[string][]byte) {
	if c.written == nil {
		c.written = make(map[string][]byte, len(Buckets))
	}
	for bucket, data := range buckets {
		c.written[bucket] = data
	}
}

// Reset forgets every written bucket so the next Pending returns all of them.
func (c *BucketCache) Reset() {
	c.written = nil
}
