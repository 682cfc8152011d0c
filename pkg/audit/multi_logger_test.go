package audit

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger is a mock implementation of Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
	closed bool
}

func (m *mockLogger) Log(ctx context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockLogger) Close() error {
	m.closed = true
	return nil
}

func (m *mockLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestMultiLogger_Log_Sync(t *testing.T) {
	logger1 := &mockLogger{}
	logger2 := &mockLogger{}

	multiLogger := NewMultiLogger(logger1, logger2)
	multiLogger.SetAsync(false)

	event := &AuditEvent{EventType: EventTypeRoleChange, ActorID: "admin"}
	require.NoError(t, multiLogger.Log(context.Background(), event))

	assert.Equal(t, 1, logger1.count())
	assert.Equal(t, 1, logger2.count())
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, logger1.events[0].ID, logger2.events[0].ID)
}

func TestMultiLogger_Log_Async(t *testing.T) {
	logger1 := &mockLogger{}
	logger2 := &mockLogger{}

	multiLogger := NewMultiLogger(logger1, logger2)
	multiLogger.SetAsync(true)

	require.NoError(t, multiLogger.Log(context.Background(), &AuditEvent{EventType: EventTypeShareGrant}))
	require.NoError(t, multiLogger.Close())

	assert.Equal(t, 1, logger1.count())
	assert.Equal(t, 1, logger2.count())
	assert.True(t, logger1.closed)
	assert.True(t, logger2.closed)
}

func TestMultiLogger_PrimaryErrorIsReturned(t *testing.T) {
	primary := &mockLogger{err: errors.New("db down")}
	secondary := &mockLogger{}

	multiLogger := NewMultiLogger(primary, secondary)
	multiLogger.SetAsync(true)

	err := multiLogger.Log(context.Background(), &AuditEvent{EventType: EventTypeShareGrant})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	require.NoError(t, multiLogger.Close())
	assert.Equal(t, 1, secondary.count())
}

func TestMultiLogger_AsyncErrorsCollected(t *testing.T) {
	primary := &mockLogger{}
	secondary := &mockLogger{err: errors.New("broker down")}

	multiLogger := NewMultiLogger(primary, secondary)
	multiLogger.SetAsync(true)

	require.NoError(t, multiLogger.Log(context.Background(), &AuditEvent{EventType: EventTypeShareGrant}))
	require.NoError(t, multiLogger.Close())

	errs := multiLogger.Errors()
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "broker down")
}

func TestMultiLogger_Sync_JoinsErrors(t *testing.T) {
	primary := &mockLogger{}
	secondary := &mockLogger{err: errors.New("file full")}

	multiLogger := NewMultiLogger(primary, secondary)

	err := multiLogger.Log(context.Background(), &AuditEvent{EventType: EventTypeShareGrant})
	require.Error(t, err)
	assert.Equal(t, 1, primary.count())
}

func TestMultiLogger_Empty(t *testing.T) {
	multiLogger := NewMultiLogger()
	assert.NoError(t, multiLogger.Log(context.Background(), &AuditEvent{}))
	assert.NoError(t, multiLogger.Close())
}
