package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	assert.Equal(t, "", EncodeCursor(""))

	after, err := DecodeCursor(EncodeCursor("user-42"))
	require.NoError(t, err)
	assert.Equal(t, "user-42", after)

	after, err = DecodeCursor("")
	require.NoError(t, err)
	assert.Equal(t, "", after)

	_, err = DecodeCursor("not base64!")
	assert.ErrorIs(t, err, authz.ErrValidation)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultPageSize, ClampLimit(0))
	assert.Equal(t, DefaultPageSize, ClampLimit(-5))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxPageSize, ClampLimit(MaxPageSize+1))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"postgres without url", func(c *Config) { c.Type = BackendPostgres }, true},
		{"postgres", func(c *Config) { c.Type = BackendPostgres; c.PostgresURL = "postgres://localhost/scribe" }, false},
		{"sqlite", func(c *Config) { c.Type = BackendSQLite }, false},
		{"mongo without uri", func(c *Config) { c.Type = BackendMongo }, true},
		{"unknown", func(c *Config) { c.Type = "cassandra" }, true},
		{"negative workers", func(c *Config) { c.WorkerLimit = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseReplicaURLs(t *testing.T) {
	assert.Nil(t, ParseReplicaURLs(""))
	assert.Equal(t, []string{"a", "b"}, ParseReplicaURLs(" a , ,b"))
}

// slowUserStore blocks in GetUser until release is closed
type slowUserStore struct {
	authz.UserStore
	inflight atomic.Int32
	peak     atomic.Int32
	release  chan struct{}
}

func (s *slowUserStore) GetUser(ctx context.Context, id string) (*authz.User, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	<-s.release
	return &authz.User{ID: id, Level: authz.LevelUser}, nil
}

func TestBoundedUserStore_LimitsConcurrency(t *testing.T) {
	inner := &slowUserStore{release: make(chan struct{})}
	store := NewBoundedUserStore(inner, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.GetUser(context.Background(), "u1")
			assert.NoError(t, err)
		}()
	}

	assert.Eventually(t, func() bool { return inner.inflight.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(inner.release)
	wg.Wait()
	assert.Equal(t, int32(2), inner.peak.Load())
}

func TestBoundedUserStore_CancelledWhileWaiting(t *testing.T) {
	inner := &slowUserStore{release: make(chan struct{})}
	store := NewBoundedUserStore(inner, 1, nil)

	go store.GetUser(context.Background(), "holder")
	require.Eventually(t, func() bool { return inner.inflight.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := store.GetUser(ctx, "waiter")
	assert.True(t, errors.Is(err, authz.ErrStoreUnavailable), "got %v", err)

	close(inner.release)
}

func TestNewBounded_ZeroLimitPassesThrough(t *testing.T) {
	inner := &slowUserStore{}
	assert.Same(t, authz.UserStore(inner), NewBoundedUserStore(inner, 0, nil))
}
