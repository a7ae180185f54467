package bucketing

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/VahantSharma/Bloggly-Backend/internal/config"
)

func TestGetEventBucketIsStableAndInRange(t *testing.T) {
	bm := NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{EventBuckets: 8}})

	seen := make(map[int]bool)
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("auth_user%d@example.com", i)
		b := bm.GetEventBucket(key)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 8)
		assert.Equal(t, b, bm.GetEventBucket(key))
		seen[b] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestNewBucketingManagerDefaultsBuckets(t *testing.T) {
	bm := NewBucketingManager(&config.Config{})
	assert.Equal(t, defaultEventBuckets, bm.GetEventBuckets())
}

func TestNewBucketingManagerClampsToColumnRange(t *testing.T) {
	bm := NewBucketingManager(&config.Config{Bucketing: config.BucketingConfig{EventBuckets: 1 << 20}})
	assert.Equal(t, maxEventBuckets, bm.GetEventBuckets())

	for i := 0; i < 1000; i++ {
		b := bm.GetEventBucket(fmt.Sprintf("api_general_10.0.%d.%d", i/256, i%256))
		assert.LessOrEqual(t, b, math.MaxUint16)
	}
}
