package mesh

import "github.com/vovakirdan/campusmesh/internal/proto"

// PeerEvents are callbacks a Peer fires from its own goroutines.
type PeerEvents struct {
	OnLocalCandidate func(proto.Candidate)
	OnChannelOpen    func()
	OnChannelClose   func()
	OnMessage        func([]byte)
	OnFailed         func(error)
}

// Peer is one direct transport to a remote endpoint.
type Peer interface {
	// CreateOffer opens the pending direct channel and returns the local offer.
	CreateOffer() (proto.SDP, error)
	// AcceptOffer applies a remote offer and returns the local answer.
	AcceptOffer(offer proto.SDP) (proto.SDP, error)
	// AcceptAnswer applies the remote answer.
	AcceptAnswer(answer proto.SDP) error
	// AddCandidate applies a remote candidate, queueing it if no remote
	// description is set yet.
	AddCandidate(c proto.Candidate) error
	// Send writes one message on the direct channel.
	Send(data []byte) error
	// Close releases all transport resources.
	Close() error
}

// PeerFactory creates peers for new sessions.
type PeerFactory interface {
	NewPeer(events PeerEvents) (Peer, error)
}
