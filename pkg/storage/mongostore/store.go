// Package mongostore implements the user and resource stores on MongoDB.
// Users and resources are single documents, so every patch is one atomic
// update. Resource writes are guarded by a version field in the filter.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/scribe/pkg/authz"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names
const (
	UsersCollection     = "users"
	ResourcesCollection = "resources"
)

// Config configures the MongoDB connection
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
	MinPoolSize    uint64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Database:       "scribe",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    100,
		MinPoolSize:    5,
	}
}

// Store implements authz.UserStore and authz.ResourceStore
type Store struct {
	client    *mongo.Client
	users     *mongo.Collection
	resources *mongo.Collection
}

// Connect dials MongoDB, verifies the connection and ensures indexes
func Connect(ctx context.Context, config Config) (*Store, error) {
	defaults := DefaultConfig()
	if config.Database == "" {
		config.Database = defaults.Database
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaults.ConnectTimeout
	}
	if config.MaxPoolSize == 0 {
		config.MaxPoolSize = defaults.MaxPoolSize
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetConnectTimeout(config.ConnectTimeout).
		SetMaxPoolSize(config.MaxPoolSize).
		SetMinPoolSize(config.MinPoolSize).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, config.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := New(client.Database(config.Database))
	if err := s.EnsureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// New creates a store over db
func New(db *mongo.Database) *Store {
	return &Store{
		client:    db.Client(),
		users:     db.Collection(UsersCollection),
		resources: db.Collection(ResourcesCollection),
	}
}

// EnsureIndexes creates the indexes queries rely on
func (s *Store) EnsureIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "level", Value: 1}, {Key: "_id", Value: 1}},
		},
	}
	if _, err := s.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	resourceIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "sharedWith.userId", Value: 1}, {Key: "_id", Value: 1}},
		},
	}
	if _, err := s.resources.Indexes().CreateMany(ctx, resourceIndexes); err != nil {
		return fmt.Errorf("failed to create resource indexes: %w", err)
	}
	return nil
}

// Ping checks that the primary is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// classify maps a driver error onto the store error kinds
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, authz.ErrNotFound)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w: %w", op, authz.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ authz.UserStore     = (*Store)(nil)
	_ authz.ResourceStore = (*Store)(nil)
)
