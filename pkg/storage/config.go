package storage

import (
	"fmt"
	"strings"
	"time"
)

// Backend names accepted in Config.Type
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMongo    = "mongo"
)

// Config selects and tunes a store backend
type Config struct {
	Type string `yaml:"type"`

	// SQL config
	PostgresURL string        `yaml:"postgres_url"`
	ReplicaURLs []string      `yaml:"replica_urls"`
	SQLitePath  string        `yaml:"sqlite_path"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`

	// MongoDB config
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// WorkerLimit caps in-flight calls per store. Zero disables the bound.
	WorkerLimit int64 `yaml:"worker_limit"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:          BackendMemory,
		SQLitePath:    "file:scribe.db?_busy_timeout=5000",
		MaxConns:      20,
		MinConns:      2,
		Timeout:       10 * time.Second,
		MaxLifetime:   time.Hour,
		MaxIdleTime:   10 * time.Minute,
		MongoDatabase: "scribe",
		WorkerLimit:   64,
	}
}

// Validate checks that the selected backend has what it needs
func (c Config) Validate() error {
	switch c.Type {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres backend requires a database URL")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires a path")
		}
	case BackendMongo:
		if c.MongoURI == "" || c.MongoDatabase == "" {
			return fmt.Errorf("mongo backend requires a URI and database")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Type)
	}
	if c.WorkerLimit < 0 {
		return fmt.Errorf("worker limit must not be negative")
	}
	return nil
}

// ParseReplicaURLs parses a comma-separated list of replica URLs
func ParseReplicaURLs(replicaURLsStr string) []string {
	if replicaURLsStr == "" {
		return nil
	}

	urls := strings.Split(replicaURLsStr, ",")
	result := make([]string, 0, len(urls))

	for _, url := range urls {
		trimmed := strings.TrimSpace(url)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
