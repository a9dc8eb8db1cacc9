// Package broadcast fans decoded rover updates out to live viewers. The
// Hub keeps per-rover subscriber groups in memory (join/leave/publish,
// rebuilt from scratch on restart); the Server exposes the hub over
// WebSocket at /ws/rovers/{id}.
//
// Delivery is at-most-once and best-effort. A slow subscriber drops
// messages rather than stalling the publisher, and a disconnected one is
// pruned lazily on its next failed send.
package broadcast
