// Package session wires the credential monitor, both transports, the event
// router and the counter aggregator into one running order feed.
package session
