package proto

import "encoding/json"

// Inbound is the envelope for messages coming from a client to the relay.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeRegister  = "register"
	InboundTypeOffer     = "offer"
	InboundTypeAnswer    = "answer"
	InboundTypeCandidate = "candidate"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventRegistered = "registered"
	EventSnapshot   = "snapshot"
	EventPeerJoined = "peer-joined"
	EventPeerLeft   = "peer-left"
	EventOffer      = "offer"
	EventAnswer     = "answer"
	EventCandidate  = "candidate"
)

// RegisterData is sent by the client to declare its identity.
type RegisterData struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// SignalData is a targeted negotiation message. Exactly one of Offer, Answer
// or Candidate is expected; the relay forwards the payload verbatim.
type SignalData struct {
	TargetHandle string          `json:"targetHandle"`
	Offer        json.RawMessage `json:"offer,omitempty"`
	Answer       json.RawMessage `json:"answer,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// Outbound is the envelope for messages sent from the relay to a client.
type Outbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// Presence describes one registered endpoint.
type Presence struct {
	EndpointHandle string `json:"endpointHandle"`
	UserID         string `json:"userId"`
	Name           string `json:"name"`
}

// Registered tells a client which handle the relay assigned to it.
type Registered struct {
	EndpointHandle string `json:"endpointHandle"`
}

// SignalEvent is a negotiation message delivered to its target.
type SignalEvent struct {
	FromHandle string          `json:"fromHandle"`
	Offer      json.RawMessage `json:"offer,omitempty"`
	Answer     json.RawMessage `json:"answer,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// Payload returns the raw negotiation payload carried for the given kind.
func (e SignalEvent) Payload(kind string) json.RawMessage {
	switch kind {
	case EventOffer:
		return e.Offer
	case EventAnswer:
		return e.Answer
	case EventCandidate:
		return e.Candidate
	default:
		return nil
	}
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
