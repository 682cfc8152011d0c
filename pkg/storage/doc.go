// Package storage holds the shared pieces of the user and resource stores
// behind the authorization service.
//
// # Backends
//
// Three implementations of authz.UserStore and authz.ResourceStore live in
// subpackages:
//
//   - memory: in-process maps with versioning. Used by tests and the
//     single-node development profile.
//   - sqlstore: database/sql over PostgreSQL (lib/pq) or SQLite
//     (mattn/go-sqlite3). Share grants are kept as a JSON column on the
//     resource row and mirrored into an index table for shared-with queries.
//   - mongostore: MongoDB documents with version-filtered updates.
//
// Every backend reports missing documents with authz.ErrNotFound, version
// mismatches with *authz.ConflictError and connectivity failures with
// authz.ErrStoreUnavailable.
//
// # Pagination
//
// Listings are ordered by ID and paged with opaque cursors produced by
// EncodeCursor. Limits are clamped by ClampLimit.
//
// # Bounded workers
//
// Blocking drivers are wrapped with NewBoundedUserStore and
// NewBoundedResourceStore, which cap in-flight calls with a weighted
// semaphore so a slow database cannot exhaust the process:
//
//	users := storage.NewBoundedUserStore(sqlUsers, 32, metrics)
//
// Acquisition honours context cancellation; a caller whose context ends
// while waiting gets authz.ErrStoreUnavailable.
package storage
