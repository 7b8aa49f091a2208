package mesh

import "errors"

var (
	// ErrRelayUnavailable means the signaling transport is down. The client
	// keeps running in offline mode.
	ErrRelayUnavailable = errors.New("relay unavailable")
	// ErrAlreadyConnected is returned by Connect when a live session exists.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrPeerUnreachable marks a send to a handle without an established session.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrNegotiationFailed is reported when the transport fails; it is handled
	// exactly like a disconnect.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrManagerClosed is returned after DisconnectAll.
	ErrManagerClosed = errors.New("connection manager closed")
)
