package mesh

import "github.com/vovakirdan/campusmesh/internal/proto"

// Identity is the application-level identity learned from a handshake.
type Identity struct {
	UserID string
	Name   string
}

// PresenceKind tells what changed in the relay presence list.
type PresenceKind int

const (
	PresenceSnapshot PresenceKind = iota
	PresenceJoined
	PresenceLeft
)

// PresenceEvent describes a relay presence update. Peers is set for a
// snapshot, Peer for a join, and Handle for a leave.
type PresenceEvent struct {
	Kind   PresenceKind
	Peers  []proto.Presence
	Peer   proto.Presence
	Handle string
}

// StateChange is fired after a session moves to a new state. Err is set
// when the session closed because of a failure.
type StateChange struct {
	Handle string
	State  State
	Role   Role
	Err    error
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	Handle string
	State  State
	Role   Role
	Remote *Identity
}

// Handler signatures. Handlers run synchronously in registration order and
// must not block for long.
type (
	PresenceHandler func(PresenceEvent)
	StateHandler    func(StateChange)
	MessageHandler  func(handle string, env *proto.Envelope)
	RelayHandler    func(online bool)
)
