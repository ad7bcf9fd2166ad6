// Package stream implements the fallback server-sent events channel.
//
// The Coordinator keeps a receive-only HTTP stream open for one store and
// hands every event to the router tagged as fallback traffic. It reconnects
// on its own schedule and never touches the primary channel's state.
package stream
