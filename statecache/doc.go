// Package statecache provides the ephemeral "latest known state" cache for
// the ingestion pipeline: short-TTL, last-write-wins entries keyed by
// message kind and rover identity. Absence of a key is a normal state
// meaning "no recent data", never an error.
//
// Two implementations share the Cache contract: a Redis-backed cache for
// production and an in-memory cache used in tests and as a degraded-mode
// fallback when Redis is unreachable at startup.
package statecache
