// Package node assembles a full mesh client: relay connection, connection
// manager, message routing and the local cache.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campusmesh/internal/cache"
	"github.com/vovakirdan/campusmesh/internal/config"
	"github.com/vovakirdan/campusmesh/internal/mesh"
	"github.com/vovakirdan/campusmesh/internal/proto"
	"github.com/vovakirdan/campusmesh/internal/signaling"
)

const cleanupInterval = 24 * time.Hour

// Mesh is the part of the connection manager the node's handlers use.
type Mesh interface {
	Send(handle string, env *proto.Envelope) bool
	Broadcast(env *proto.Envelope) int
	PeerInfo(handle string) (mesh.Identity, bool)
}

// MeetupDecider answers an incoming meetup request.
type MeetupDecider func(handle string, req *proto.Envelope) bool

// Hooks surface application events to a UI. Any of them may be nil.
type Hooks struct {
	Chat           func(handle, sender, text string)
	MeetupRequest  func(handle string, m cache.Meetup)
	MeetupResponse func(handle, from string, accepted bool)
	PeerIdentified func(handle string, id mesh.Identity)
}

// Option configures a Node.
type Option func(*Node)

// WithMeetupDecider sets the policy for incoming meetup requests. The
// default declines everything.
func WithMeetupDecider(d MeetupDecider) Option {
	return func(n *Node) { n.decide = d }
}

// WithHooks installs UI callbacks.
func WithHooks(h Hooks) Option {
	return func(n *Node) { n.hooks = h }
}

// Node is one campus mesh client.
type Node struct {
	self      mesh.Identity
	mesh      Mesh
	mgr       *mesh.Manager
	client    *signaling.Client
	router    *mesh.Router
	store     cache.Store
	writer    *cache.Writer
	retention time.Duration
	decide    MeetupDecider
	hooks     Hooks
	log       *zerolog.Logger
}

// New builds a node from client configuration. The store is owned by the
// caller and must outlive the node.
func New(cfg config.ClientConfig, store cache.Store, logger *zerolog.Logger, opts ...Option) (*Node, error) {
	if cfg.UserID == "" {
		return nil, fmt.Errorf("client user id is required")
	}
	ice, err := cfg.ICEServers()
	if err != nil {
		return nil, fmt.Errorf("ice servers: %w", err)
	}

	self := mesh.Identity{UserID: cfg.UserID, Name: cfg.Name}
	mgr := mesh.NewManager(self, mesh.NewPionFactory(ice, cfg.IncludeLoopback), logger)
	client := signaling.New(signaling.Options{
		URL:          cfg.RelayURL,
		UserID:       cfg.UserID,
		Name:         cfg.Name,
		Token:        cfg.Token,
		ReconnectMin: cfg.ReconnectMin,
		ReconnectMax: cfg.ReconnectMax,
	}, mgr, logger)
	mgr.AttachRelay(client)

	n := newNode(self, mgr, store, logger, opts...)
	n.mgr = mgr
	n.client = client
	n.retention = cfg.CacheRetention
	mgr.OnMessage(n.router.Dispatch)
	return n, nil
}

func newNode(self mesh.Identity, m Mesh, store cache.Store, logger *zerolog.Logger, opts ...Option) *Node {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	n := &Node{
		self:   self,
		mesh:   m,
		store:  store,
		writer: cache.NewWriter(store, logger, 256),
		router: mesh.NewRouter(logger),
		decide: func(string, *proto.Envelope) bool { return false },
		log:    logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.routes()
	return n
}

// Manager exposes the connection manager for connect and query calls.
func (n *Node) Manager() *mesh.Manager {
	return n.mgr
}

// Run keeps the relay connection alive and sweeps the cache until ctx is
// done, then disconnects everything and flushes pending cache writes.
func (n *Node) Run(ctx context.Context) error {
	defer n.Close()

	if n.retention > 0 {
		n.writer.Cleanup(n.retention)
	}
	go n.cleanupLoop(ctx)

	if n.client == nil {
		<-ctx.Done()
		return nil
	}
	return n.client.Run(ctx)
}

func (n *Node) cleanupLoop(ctx context.Context) {
	if n.retention <= 0 {
		return
	}
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.writer.Cleanup(n.retention)
		case <-ctx.Done():
			return
		}
	}
}

// Close logs out of the mesh and drains the cache writer.
func (n *Node) Close() {
	if n.mgr != nil {
		n.mgr.DisconnectAll()
	}
	n.writer.Close()
}

// Chat broadcasts text to every connected peer. When nobody is connected
// the message is queued and sent to the next peer that completes a
// handshake. It returns the number of peers reached.
func (n *Node) Chat(text string) int {
	delivered := n.mesh.Broadcast(proto.NewChat(n.self.Name, text))
	status := cache.MessageSent
	if delivered == 0 {
		status = cache.MessagePending
	}
	n.writer.SaveMessage(cache.Message{Sender: n.self.Name, Body: text, Status: status, CreatedAt: time.Now()})
	return delivered
}

// ChatTo sends text to one peer.
func (n *Node) ChatTo(handle, text string) bool {
	if !n.mesh.Send(handle, proto.NewChat(n.self.Name, text)) {
		return false
	}
	n.writer.SaveMessage(cache.Message{
		PeerID:    n.peerKey(handle),
		Sender:    n.self.Name,
		Body:      text,
		Status:    cache.MessageSent,
		CreatedAt: time.Now(),
	})
	return true
}

// RequestMeetup proposes a meetup to one peer.
func (n *Node) RequestMeetup(handle, location, at string) bool {
	if !n.mesh.Send(handle, proto.NewMeetupRequest(n.self.Name, location, at)) {
		return false
	}
	id, _ := n.mesh.PeerInfo(handle)
	n.writer.SaveMeetup(cache.Meetup{
		Direction: cache.MeetupSent,
		PeerID:    n.peerKey(handle),
		PeerName:  id.Name,
		Location:  location,
		Time:      at,
		Status:    cache.MeetupPending,
		CreatedAt: time.Now(),
	})
	return true
}

// CachedPeers returns identities from the local cache, available offline.
func (n *Node) CachedPeers(ctx context.Context) ([]cache.Peer, error) {
	return n.store.ListPeers(ctx)
}

// Messages returns cached chat history.
func (n *Node) Messages(ctx context.Context, filter cache.MessageFilter) ([]cache.Message, error) {
	return n.store.ListMessages(ctx, filter)
}

// Meetups returns cached meetup proposals.
func (n *Node) Meetups(ctx context.Context, filter cache.MeetupFilter) ([]cache.Meetup, error) {
	return n.store.ListMeetups(ctx, filter)
}

// Flush waits until all queued cache writes have been applied.
func (n *Node) Flush(ctx context.Context) error {
	return n.writer.Flush(ctx)
}

// peerKey identifies a remote in the cache: its user id once known,
// otherwise the endpoint handle.
func (n *Node) peerKey(handle string) string {
	if id, ok := n.mesh.PeerInfo(handle); ok && id.UserID != "" {
		return id.UserID
	}
	return handle
}
