// Package model defines shared data types used across the order feed.
//
// Conventions:
//   - Money: decimal.Decimal, decoded from either JSON numbers or strings
//   - Timestamps: time.Time as sent by the backend (RFC 3339)
//   - IDs: opaque strings assigned by the backend
package model
