package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const (
	activeLogName    = "audit.log"
	rotatedLogPrefix = "audit-"
	defaultMaxSize   = 100 << 20
	defaultMaxFiles  = 10
)

var errFileLoggerClosed = errors.New("audit file logger is closed")

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	// BasePath is the directory holding audit.log and its rotated siblings.
	BasePath string
	Rotate   bool
	// MaxSize is the size in bytes at which audit.log is rotated.
	MaxSize int64
	// MaxFiles is how many rotated files are kept.
	MaxFiles int
	// Sync fsyncs after every event.
	Sync bool
}

// DefaultFileLoggerConfig returns default configuration
func DefaultFileLoggerConfig() FileLoggerConfig {
	return FileLoggerConfig{
		BasePath: "/var/log/scribe/audit",
		Rotate:   true,
		MaxSize:  defaultMaxSize,
		MaxFiles: defaultMaxFiles,
	}
}

// FileLogger appends audit events to a local file, one JSON document per
// line. It is a secondary sink; the database sink is the one queried.
type FileLogger struct {
	cfg FileLoggerConfig

	mu   sync.Mutex
	file *os.File
	size int64
	now  func() time.Time
}

// NewFileLogger opens (or creates) BasePath/audit.log for appending
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}
	if config.MaxFiles <= 0 {
		config.MaxFiles = defaultMaxFiles
	}
	if err := os.MkdirAll(config.BasePath, 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	l := &FileLogger{cfg: config, now: time.Now}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) activePath() string {
	return filepath.Join(l.cfg.BasePath, activeLogName)
}

// open must be called with mu held or before the logger is shared
func (l *FileLogger) open() error {
	f, err := os.OpenFile(l.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	l.file, l.size = f, info.Size()
	return nil
}

// Log appends event, rotating first when the active file is full
func (l *FileLogger) Log(ctx context.Context, event *AuditEvent) error {
	prepare(ctx, event)

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event %s: %w", event.ID, err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errFileLoggerClosed
	}
	if l.cfg.Rotate && l.size > 0 && l.size+int64(len(line)) > l.cfg.MaxSize {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		return fmt.Errorf("write audit event %s: %w", event.ID, err)
	}
	if l.cfg.Sync {
		return l.file.Sync()
	}
	return nil
}

// rotate renames the active file with a sortable UTC suffix, prunes old
// files and reopens. Called with mu held.
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close audit log for rotation: %w", err)
	}
	l.file = nil

	stamp := l.now().UTC().Format("20060102T150405.000000000")
	rotated := filepath.Join(l.cfg.BasePath, rotatedLogPrefix+stamp+".log")
	if err := os.Rename(l.activePath(), rotated); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	l.prune()
	return l.open()
}

func (l *FileLogger) prune() {
	files, err := filepath.Glob(filepath.Join(l.cfg.BasePath, rotatedLogPrefix+"*.log"))
	if err != nil || len(files) <= l.cfg.MaxFiles {
		return
	}
	sort.Strings(files)
	for _, f := range files[:len(files)-l.cfg.MaxFiles] {
		os.Remove(f)
	}
}

// Close closes the active file. Later calls to Log fail.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLogs reads up to count events from the active file, oldest first.
// A count of zero reads everything.
func (l *FileLogger) ReadLogs(count int) ([]*AuditEvent, error) {
	f, err := os.Open(l.activePath())
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var events []*AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return events, fmt.Errorf("decode audit log line %d: %w", len(events)+1, err)
		}
		events = append(events, &event)
		if count > 0 && len(events) == count {
			break
		}
	}
	return events, scanner.Err()
}
