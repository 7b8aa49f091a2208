package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// Peer is a remote identity learned over a direct channel or a sync.
type Peer struct {
	UserID    string
	Name      string
	UpdatedAt time.Time
}

// MessageStatus tracks delivery of a cached chat message.
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageSent     MessageStatus = "sent"
	MessageReceived MessageStatus = "received"
)

// Message is a cached chat message. PeerID is the remote user id, or empty
// for a broadcast that has not reached anyone yet.
type Message struct {
	ID        int64
	PeerID    string
	Sender    string
	Body      string
	Status    MessageStatus
	CreatedAt time.Time
}

// MessageFilter narrows ListMessages. Zero fields match everything.
type MessageFilter struct {
	Status MessageStatus
	PeerID string
}

// MeetupDirection tells whether a meetup was proposed locally or remotely.
type MeetupDirection string

const (
	MeetupSent     MeetupDirection = "sent"
	MeetupReceived MeetupDirection = "received"
)

// MeetupStatus is the lifecycle of a meetup proposal.
type MeetupStatus string

const (
	MeetupPending  MeetupStatus = "pending"
	MeetupAccepted MeetupStatus = "accepted"
	MeetupDeclined MeetupStatus = "declined"
)

// Meetup is a cached meetup proposal.
type Meetup struct {
	ID        int64
	Direction MeetupDirection
	PeerID    string
	PeerName  string
	Location  string
	Time      string
	Status    MeetupStatus
	CreatedAt time.Time
}

// MeetupFilter narrows ListMeetups. Zero fields match everything.
type MeetupFilter struct {
	Status    MeetupStatus
	Direction MeetupDirection
	PeerID    string
}

// PeerStore keeps remote identities keyed by user id.
type PeerStore interface {
	// PutPeer inserts or replaces a peer.
	PutPeer(ctx context.Context, p Peer) error

	// GetPeer retrieves a peer by user id.
	GetPeer(ctx context.Context, userID string) (*Peer, error)

	// ListPeers returns all cached peers, most recently updated first.
	ListPeers(ctx context.Context) ([]Peer, error)

	// DeletePeer removes a peer.
	DeletePeer(ctx context.Context, userID string) error
}

// MessageStore keeps chat history and the pending outbox.
type MessageStore interface {
	// SaveMessage inserts msg and sets its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns matching messages, oldest first.
	ListMessages(ctx context.Context, filter MessageFilter) ([]Message, error)

	// UpdateMessageStatus changes the status of one message.
	UpdateMessageStatus(ctx context.Context, id int64, status MessageStatus) error

	// DeleteMessage removes a message.
	DeleteMessage(ctx context.Context, id int64) error
}

// MeetupStore keeps meetup proposals.
type MeetupStore interface {
	// SaveMeetup inserts m and sets its ID.
	SaveMeetup(ctx context.Context, m *Meetup) error

	// ListMeetups returns matching meetups, newest first.
	ListMeetups(ctx context.Context, filter MeetupFilter) ([]Meetup, error)

	// UpdateMeetupStatus changes the status of one meetup.
	UpdateMeetupStatus(ctx context.Context, id int64, status MeetupStatus) error

	// DeleteMeetup removes a meetup.
	DeleteMeetup(ctx context.Context, id int64) error
}

// Store combines all cache interfaces.
type Store interface {
	PeerStore
	MessageStore
	MeetupStore

	// Cleanup deletes messages and meetups created before cutoff and
	// returns how many rows were removed.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases the underlying storage.
	Close() error
}
