// Package middleware provides the HTTP middleware in front of the scribe-authz
// API.
//
//	router.Use(middleware.RequestID(logger))
//	router.Use(middleware.AccessLog)
//	router.Use(middleware.Principal)
//
// RequestID tags the request context with an ID and a logger carrying it.
// Principal reads the authenticated user from the X-Scribe-User header set
// by the gateway and rejects requests without one.
//
// RateLimit bounds requests per principal. RateLimiter keeps token buckets in
// process; DistributedRateLimiter keeps fixed window counters in Redis so
// every replica shares one budget:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "")
//	adminRouter.Use(middleware.RateLimit(limiter))
package middleware
