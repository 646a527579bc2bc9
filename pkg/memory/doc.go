// Package memory provides the key/value stores that back session persistence.
//
// A browser keeps the session record in a cookie or localStorage; a Go host
// needs an explicit store. Two implementations are provided:
//
//   - InMemoryStore: process-local, TTL aware, used by default and in tests
//   - RedisMemory: shared across processes, selected with sessionStoreUrl
//     (or REDIS_URL)
//
// Keys are namespaced by RedisMemory ("insights:ai_session"), so several
// applications can share one Redis database.
package memory
