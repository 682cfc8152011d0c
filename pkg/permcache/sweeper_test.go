package permcache

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweepable struct {
	calls atomic.Int32
}

func (c *countingSweepable) Sweep(now time.Time) int {
	c.calls.Add(1)
	return 0
}

func TestNewSweeper_InvalidSchedule(t *testing.T) {
	_, err := NewSweeper("not a schedule", &countingSweepable{}, observability.NewLogger(observability.InfoLevel, &bytes.Buffer{}))
	assert.Error(t, err)
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	target := &countingSweepable{}
	sweeper, err := NewSweeper("@every 1s", target, observability.NewLogger(observability.InfoLevel, &bytes.Buffer{}))
	require.NoError(t, err)

	sweeper.Start()
	assert.Eventually(t, func() bool { return target.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	sweeper.Stop()
}

func TestSweeper_RunRemovesExpired(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache(WithClock(func() time.Time { return time.Now().Add(-time.Hour) }))
	require.NoError(t, cache.SetRole(ctx, "u1", authz.LevelUser, time.Minute))

	sweeper, err := NewSweeper("", cache, observability.NewLogger(observability.InfoLevel, &bytes.Buffer{}))
	require.NoError(t, err)
	sweeper.run()

	stats, _ := cache.Stats(ctx)
	assert.Equal(t, int64(0), stats.Entries)
}
