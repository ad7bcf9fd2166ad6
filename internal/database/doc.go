// Package database provides PostgreSQL connection pool management.
//
// The order feed keeps no event history; the pool only backs the shared
// credential store so several feed instances observe the same login state.
package database
