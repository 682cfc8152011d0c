package audit

import (
	"context"
	"errors"
	"sync"
)

// MultiLogger logs to multiple audit loggers
type MultiLogger struct {
	loggers []Logger
	async   bool // If true, secondary loggers are written asynchronously
	wg      sync.WaitGroup
	errChan chan error
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations.
// The first logger is the primary sink and is always written synchronously so
// its error reaches the caller.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		errChan: make(chan error, len(loggers)+1),
	}
}

// SetAsync sets whether secondary loggers are written asynchronously
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if len(m.loggers) == 0 {
		return nil
	}

	// identity is fixed once so every sink records the same event
	prepare(ctx, event)

	primaryErr := m.loggers[0].Log(ctx, event)

	rest := m.loggers[1:]
	if m.async {
		// detach from request cancellation; sinks have their own timeouts
		detached := context.WithoutCancel(ctx)
		for _, logger := range rest {
			m.wg.Add(1)
			go func(l Logger) {
				defer m.wg.Done()
				if err := l.Log(detached, event); err != nil {
					select {
					case m.errChan <- err:
					default:
					}
				}
			}(logger)
		}
		return primaryErr
	}

	errs := []error{primaryErr}
	for _, logger := range rest {
		// continue logging to other loggers even if one fails
		errs = append(errs, logger.Log(ctx, event))
	}
	return errors.Join(errs...)
}

// Errors returns errors collected from asynchronous writes without blocking.
func (m *MultiLogger) Errors() []error {
	var errs []error
	for {
		select {
		case err := <-m.errChan:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close waits for pending writes and closes every logger
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
