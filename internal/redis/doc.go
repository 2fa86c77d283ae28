// Package redis connects relay instances through Redis Pub/Sub.
//
// NewClient builds an instrumented go-redis client (metrics and circuit-breaker hooks).
// Bridge forwards locally originated broadcasts to a shared channel and injects broadcasts
// published by other instances into the local relay.
package redis
