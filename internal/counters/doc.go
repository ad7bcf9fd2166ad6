// Package counters holds the latest order counter snapshot.
//
// Snapshots arrive either as order_counters_updated events or are derived
// from stats_updated events. Each one replaces the previous snapshot whole;
// fields are never merged across snapshots.
package counters
