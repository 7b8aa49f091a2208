package core

import "encoding/json"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandRegister declares the client's identity and requests a presence snapshot.
	CommandRegister CommandKind = iota
	// CommandSignal forwards a negotiation message to another endpoint.
	CommandSignal
)

// SignalKind names a negotiation message.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
)

// Signal is a negotiation message. Peer is the target handle on the way in
// and the sender handle on the way out. Payload is never inspected.
type Signal struct {
	Kind    SignalKind
	Peer    string
	Payload json.RawMessage
}

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	Identity Identity
	Token    string
	Signal   Signal
}
