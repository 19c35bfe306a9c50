// Package session houses the session backends implementing core.SessionStore
// and the StateStore that layers the namespaced key conventions and the
// append-only coordination logs on top of any backend.
//
// Backends:
//
//   - InMemoryStore: process local, bounded and idle-expiring (expirable LRU)
//   - RedisStore: JSON document per session with optimistic transactions
//
// Only the wiring layer decides which backend to instantiate; agents and the
// delegation protocol depend on StateStore.
package session
