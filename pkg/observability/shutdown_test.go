package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
}

func TestShutdown_RunsFunctionsInOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	sm.RegisterShutdownFunc("sweeper", record("sweeper"))
	sm.RegisterShutdownFunc("cache", record("cache"))
	sm.RegisterShutdownFunc("audit", record("audit"))

	require.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"sweeper", "cache", "audit"}, order)
}

func TestShutdown_CollectsErrorsAndContinues(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, time.Second)

	ran := false
	sm.RegisterShutdownFunc("cache", func(ctx context.Context) error { return errors.New("redis gone") })
	sm.RegisterShutdownFunc("audit", func(ctx context.Context) error { ran = true; return nil })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache: redis gone")
	assert.True(t, ran)
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), nil, 20*time.Millisecond)

	second := false
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.RegisterShutdownFunc("never", func(ctx context.Context) error { second = true; return nil })

	err := sm.Shutdown()
	require.Error(t, err)
	assert.False(t, second)
}

func TestRun_ShutsDownServerOnCancel(t *testing.T) {
	server := &http.Server{Addr: "127.0.0.1:0"}
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
