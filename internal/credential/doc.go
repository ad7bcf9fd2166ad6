// Package credential validates and tracks the bearer credential that gates
// the order channels.
//
// The Monitor is the single owner of the current credential. It reads the
// credential from a shared Store, re-validates it on a timer armed shortly
// before expiry, reacts to store change notifications from other instances,
// and forces invalidation when the credential is found expired.
//
// Stores:
//   - MemoryStore: in-process, used by tests and single-instance runs
//   - PostgresStore: one table row per key, LISTEN/NOTIFY change signal
//   - RedisStore: one string key, pub/sub change signal
package credential
