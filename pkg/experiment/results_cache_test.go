package experiment_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/experiment"
)

func TestResultsCache(t *testing.T) {
	t.Parallel()

	t.Run("keeps the newest results", func(t *testing.T) {
		t.Parallel()
		c := experiment.NewResultsCache(4, 0)
		id := uuid.New()

		c.Put(&experiment.Results{ExperimentID: id, GeneratedAt: baseTime.Add(time.Hour)})
		c.Put(&experiment.Results{ExperimentID: id, GeneratedAt: baseTime})

		got, ok := c.Get(id)
		require.True(t, ok)
		assert.Equal(t, baseTime.Add(time.Hour), got.GeneratedAt)
	})

	t.Run("returns copies", func(t *testing.T) {
		t.Parallel()
		c := experiment.NewResultsCache(4, 0)
		id := uuid.New()
		c.Put(&experiment.Results{ExperimentID: id, Recommendations: []string{"keep"}})

		got, _ := c.Get(id)
		got.Recommendations[0] = "changed"
		again, _ := c.Get(id)
		assert.Equal(t, []string{"keep"}, again.Recommendations)
	})

	t.Run("invalidate and evict", func(t *testing.T) {
		t.Parallel()
		c := experiment.NewResultsCache(1, 0)
		a, b := uuid.New(), uuid.New()

		c.Put(&experiment.Results{ExperimentID: a})
		c.Invalidate(a)
		_, ok := c.Get(a)
		assert.False(t, ok)

		c.Put(&experiment.Results{ExperimentID: a})
		c.Put(&experiment.Results{ExperimentID: b})
		_, ok = c.Get(a)
		assert.False(t, ok, "least recently used entry is evicted")
		_, ok = c.Get(b)
		assert.True(t, ok)
	})
}
