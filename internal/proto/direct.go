package proto

import (
	"encoding/json"
	"time"
)

// Direct channel message types.
const (
	DirectHandshake      = "handshake"
	DirectChat           = "chat"
	DirectMeetupRequest  = "meetup-request"
	DirectMeetupResponse = "meetup-response"
	DirectSync           = "sync"
)

// Envelope is the message exchanged over a direct channel. Fields are flat so
// that browser peers can produce and consume the same JSON.
type Envelope struct {
	Type string `json:"type"`

	// handshake
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`

	// chat
	Message string `json:"message,omitempty"`
	Sender  string `json:"sender,omitempty"`

	// meetup-request / meetup-response
	From     string `json:"from,omitempty"`
	Location string `json:"location,omitempty"`
	Time     string `json:"time,omitempty"`
	Accepted *bool  `json:"accepted,omitempty"`

	// sync
	Peers []SyncPeer `json:"peers,omitempty"`

	// Timestamp is unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// SyncPeer is a peer identity shared in a sync message.
type SyncPeer struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// SentAt returns the envelope timestamp.
func (e *Envelope) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Encode serializes the envelope. An unset timestamp is stamped on the
// encoded copy only, so one envelope can be sent to many peers concurrently.
func (e *Envelope) Encode() ([]byte, error) {
	out := *e
	if out.Timestamp == 0 {
		out.Timestamp = time.Now().UnixMilli()
	}
	return json.Marshal(&out)
}

// DecodeEnvelope parses a direct channel message.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// NewHandshake builds the identity announcement sent when a channel opens.
func NewHandshake(userID, userName string) *Envelope {
	return &Envelope{Type: DirectHandshake, UserID: userID, UserName: userName}
}

// NewChat builds a chat message.
func NewChat(sender, text string) *Envelope {
	return &Envelope{Type: DirectChat, Sender: sender, Message: text}
}

// NewMeetupRequest builds a meetup proposal.
func NewMeetupRequest(from, location, at string) *Envelope {
	return &Envelope{Type: DirectMeetupRequest, From: from, Location: location, Time: at}
}

// NewMeetupResponse builds the answer to a meetup proposal.
func NewMeetupResponse(from string, accepted bool) *Envelope {
	return &Envelope{Type: DirectMeetupResponse, From: from, Accepted: &accepted}
}

// NewSync builds a peer exchange message.
func NewSync(peers []SyncPeer) *Envelope {
	return &Envelope{Type: DirectSync, Peers: peers}
}
