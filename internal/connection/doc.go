// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns the primary websocket channel for one store
//   - Authenticates at dial time with the credential from the monitor
//   - Drives an explicit state machine (see State)
//   - Reconnects with a fixed delay up to a bounded attempt count
//   - Never reconnects automatically after an authentication failure
//   - Sends liveness pings and records the last pong
//   - Correlates order status requests with their acknowledgements
//   - Forwards event messages to the Event Router
package connection
