package authz

import (
	"context"
	"time"
)

// UserStore is the backing store for user permission fields.
//
// Implementations return errors matching ErrNotFound for missing users and
// ErrStoreUnavailable for connectivity failures.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUsers fetches many users at once. Unknown IDs are absent from the result.
	GetUsers(ctx context.Context, ids []string) (map[string]*User, error)

	// UpdateUser applies patch atomically. History entries are appended,
	// never rewritten.
	UpdateUser(ctx context.Context, id string, patch UserPatch) error

	CountByLevel(ctx context.Context) (map[PermissionLevel]int, error)

	// ListUsers returns one page of users ordered by ID.
	ListUsers(ctx context.Context, q UserQuery) (*UserPage, error)
}

// UserPatch describes a change to a user's permission fields. Nil fields are
// left untouched.
type UserPatch struct {
	Level *PermissionLevel

	// ExpectedLevel makes the whole patch conditional on the stored level.
	// A mismatch yields an error matching ErrConflict and writes nothing.
	ExpectedLevel *PermissionLevel

	// CustomPermissions replaces the whole override map when non-nil.
	CustomPermissions *Overrides

	AppendHistory *PermissionChange
}

// UserQuery selects a page of users.
type UserQuery struct {
	// MinLevel restricts results to users at or above this level. Zero means any.
	MinLevel PermissionLevel
	Cursor   string
	Limit    int
}

// UserPage is one page of a user listing.
type UserPage struct {
	Users      []*User
	NextCursor string
}

// ResourceStore is the backing store for resource documents.
type ResourceStore interface {
	GetResource(ctx context.Context, id string) (*Resource, error)

	// UpsertResource writes resource only if the stored version equals
	// expectedVersion (zero for a new document) and returns the new version.
	// A mismatch yields a *ConflictError.
	UpsertResource(ctx context.Context, resource *Resource, expectedVersion int64) (int64, error)

	QueryResources(ctx context.Context, q ResourceQuery) (*ResourcePage, error)
}

// ResourceQuery selects a page of resources.
type ResourceQuery struct {
	OwnerID        string
	SharedWithUser string
	IncludeDeleted bool
	Cursor         string
	Limit          int
}

// ResourcePage is one page of a resource listing.
type ResourcePage struct {
	Resources  []*Resource
	NextCursor string
}

// PermissionCache fronts the user store for role and capability lookups.
// Implementations must be safe for concurrent use. A returned error is a
// cache failure; callers fall back to the store.
type PermissionCache interface {
	GetRole(ctx context.Context, userID string) (PermissionLevel, bool, error)
	SetRole(ctx context.Context, userID string, level PermissionLevel, ttl time.Duration) error

	GetCapabilities(ctx context.Context, userID string) (CapabilitySet, bool, error)
	SetCapabilities(ctx context.Context, userID string, caps CapabilitySet, ttl time.Duration) error

	// Invalidate removes every entry keyed to userID.
	Invalidate(ctx context.Context, userID string) error

	// BulkGet returns hits only; a missing key means a miss.
	BulkGet(ctx context.Context, userIDs []string) (map[string]PermissionLevel, error)
	BulkSet(ctx context.Context, levels map[string]PermissionLevel, ttl time.Duration) error

	// GetQuery and SetQuery cache aggregate query results by shape.
	GetQuery(ctx context.Context, shape string) ([]byte, bool, error)
	SetQuery(ctx context.Context, shape string, value []byte, ttl time.Duration) error
	InvalidateQuery(ctx context.Context, shape string) error

	Stats(ctx context.Context) (CacheStats, error)
	Close() error
}

// CacheStats summarizes cache contents.
type CacheStats struct {
	Backend        string `json:"backend"`
	Entries        int64  `json:"entry_count"`
	EstimatedBytes int64  `json:"estimated_bytes"`
	Hits           int64  `json:"hits"`
	Misses         int64  `json:"misses"`
}
