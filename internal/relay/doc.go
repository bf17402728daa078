// Package relay implements the in-memory room and session coordination core:
// chat room fan-out, call room membership choreography, and 1:1 WebRTC
// signaling relay between connected peers.
//
// All room and membership state is owned by a single Hub goroutine. Handlers
// run to completion before the next event is processed, so the read-modify-
// write sequences on the room tables need no locking and observe each other
// atomically. Delivery to peers is a non-blocking enqueue onto each
// connection's send buffer and is never awaited.
package relay
