// Package broadcast provides the low-latency side channel tabs use to
// announce lock claims.
//
// A Channel is best-effort pub/sub delivered to every tab, including the
// publisher. Messages may be lost or reordered; callers must tolerate
// that and fall back to store change notifications.
//
// Implementations:
//
//   - Hub: in-process, synchronous delivery
//   - Redis: PUBLISH/SUBSCRIBE on a single Redis channel
//   - Gossip: hashicorp/memberlist best-effort UDP messages between peers
package broadcast
