package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRegistered tells a client its own handle after registration.
	EventRegistered EventKind = iota
	// EventSnapshot seeds a newly registered client with everyone else online.
	EventSnapshot
	// EventPeerJoined announces a registration to every other client.
	EventPeerJoined
	// EventPeerLeft announces a disconnect to every remaining client.
	EventPeerLeft
	// EventSignal delivers a forwarded negotiation message.
	EventSignal
	// EventError notifies a client about a rejected command.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventRegistered:
		return "registered"
	case EventSnapshot:
		return "snapshot"
	case EventPeerJoined:
		return "peer-joined"
	case EventPeerLeft:
		return "peer-left"
	case EventSignal:
		return "signal"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind     EventKind
	Handle   string           // registered, peer-left
	Presence *PresenceRecord  // peer-joined
	Snapshot []PresenceRecord // snapshot
	Signal   *Signal          // signal, Peer is the sender
	Error    *CoreError
}
