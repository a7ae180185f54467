package bucketing

import (
	"hash"
	"math"
	"sync"

	"github.com/spaolacci/murmur3"

	"github.com/VahantSharma/Bloggly-Backend/internal/config"
	"github.com/VahantSharma/Bloggly-Backend/internal/util"
)

const (
	defaultEventBuckets = 64
	// event_bucket is a UInt16 column.
	maxEventBuckets = math.MaxUint16 + 1
)

// BucketingManager assigns stable murmur3 buckets to rate limit keys so
// analytics rows for one key land together.
type BucketingManager struct {
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	buckets := cfg.Bucketing.EventBuckets
	switch {
	case buckets <= 0:
		buckets = defaultEventBuckets
	case buckets > maxEventBuckets:
		util.Warn("EVENT_BUCKETS exceeds the event_bucket column range, clamping",
			util.Int("configured", buckets),
			util.Int("max", maxEventBuckets))
		buckets = maxEventBuckets
	}

	bm := &BucketingManager{eventBuckets: buckets}

	// Create pool of hash functions to avoid allocation overhead
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetEventBucket returns the bucket (0 to eventBuckets-1) for key.
func (bm *BucketingManager) GetEventBucket(key string) int {
	return int(bm.getHash(key) % uint64(bm.eventBuckets))
}

func (bm *BucketingManager) GetEventBuckets() int {
	return bm.eventBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
