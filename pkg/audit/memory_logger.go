package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryLogger keeps audit events in process. It backs tests and the
// in-memory deployment profile.
type MemoryLogger struct {
	mu     sync.RWMutex
	events []*AuditEvent
}

// NewMemoryLogger creates an empty in-memory audit log
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log stores a copy of event
func (l *MemoryLogger) Log(ctx context.Context, event *AuditEvent) error {
	prepare(ctx, event)

	stored := *event
	l.mu.Lock()
	l.events = append(l.events, &stored)
	l.mu.Unlock()
	return nil
}

// Search returns matching events, newest first
func (l *MemoryLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	l.mu.RLock()
	matched := make([]*AuditEvent, 0)
	for _, e := range l.events {
		if filter.matches(e) {
			copied := *e
			matched = append(matched, &copied)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*AuditEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Events returns every stored event in insertion order
func (l *MemoryLogger) Events() []*AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Close is a no-op
func (l *MemoryLogger) Close() error {
	return nil
}
