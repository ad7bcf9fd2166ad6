// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Primary channel state, reconnect attempts and auth failures
//   - Events routed and suppressed as duplicates, per transport
//   - Order action latency and failures
//   - Credential checks and forced invalidations
//   - Fallback stream connectivity
package metrics
