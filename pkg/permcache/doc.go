// Package permcache implements authz.PermissionCache.
//
// Three backends are available:
//
//   - MemoryCache: sharded map with lazy expiry on read and an optional
//     periodic Sweep
//   - LRUCache: bounded by entry count, least recently used entries evicted
//   - RedisCache: shared across replicas, expiry handled by Redis TTLs
//
// Every backend is safe for concurrent use. Writes replace whole entries;
// nothing is merged. A cache is a pure optimization: callers treat any error
// as a miss and read the user store instead.
package permcache
