package messaging

import "errors"

// Error taxonomy for the messaging subsystem. Transient faults
// (ErrHeartbeatTimeout, handshake timeouts) are retried by the transport
// and surface only as connection events; terminal faults require caller
// action.
var (
	// ErrNotConnected is returned when a write is attempted while the
	// transport is not connected. Sends are never queued.
	ErrNotConnected = errors.New("not connected")

	// ErrHandshakeFailed covers dial and handshake failures that are not
	// authorization rejections.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrAuthRejected means the server refused the bearer token. The
	// transport does not retry; the caller must re-authenticate.
	ErrAuthRejected = errors.New("authorization rejected")

	// ErrHeartbeatTimeout means no pong arrived in time. Treated as a
	// drop, not a graceful close.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")

	// ErrRetriesExhausted means the reconnect ceiling was hit. Explicit
	// Retry or Connect is required.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

	// ErrPaginationStale marks a history response that arrived for a
	// superseded room. It is discarded, never surfaced to the UI.
	ErrPaginationStale = errors.New("stale pagination response")

	// ErrEmptyMessage and ErrMessageTooLong mirror server-side text
	// validation so bad sends fail before touching the network.
	ErrEmptyMessage   = errors.New("empty message")
	ErrMessageTooLong = errors.New("message too long")

	// ErrSessionClosed is returned by operations on a disposed session.
	ErrSessionClosed = errors.New("session closed")
)
