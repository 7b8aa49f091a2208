package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campusmesh/internal/proto"
)

// Signaler is the relay transport as seen by the manager.
type Signaler interface {
	Connected() bool
	Signal(ctx context.Context, kind, target string, payload any) error
	Close() error
}

// Option configures a Manager.
type Option func(*Manager)

// WithSignalTimeout bounds each outbound relay write.
func WithSignalTimeout(d time.Duration) Option {
	return func(m *Manager) { m.signalTimeout = d }
}

// Manager owns every session of one client, keyed by remote endpoint handle.
// It implements signaling.Listener.
type Manager struct {
	self          Identity
	peers         PeerFactory
	log           *zerolog.Logger
	signalTimeout time.Duration

	mu       sync.Mutex
	relay    Signaler
	sessions map[string]*session
	presence []proto.Presence
	selfHand string
	offline  bool
	closed   bool

	hmu              sync.RWMutex
	presenceHandlers []PresenceHandler
	stateHandlers    []StateHandler
	messageHandlers  []MessageHandler
	relayHandlers    []RelayHandler
}

// NewManager creates a manager for the local identity self. Attach a relay
// with AttachRelay before connecting.
func NewManager(self Identity, peers PeerFactory, logger *zerolog.Logger, opts ...Option) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	m := &Manager{
		self:          self,
		peers:         peers,
		log:           logger,
		signalTimeout: 5 * time.Second,
		sessions:      make(map[string]*session),
		offline:       true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachRelay sets the signaling transport.
func (m *Manager) AttachRelay(relay Signaler) {
	m.mu.Lock()
	m.relay = relay
	m.mu.Unlock()
}

// OnPresence registers a presence handler.
func (m *Manager) OnPresence(h PresenceHandler) {
	m.hmu.Lock()
	m.presenceHandlers = append(m.presenceHandlers, h)
	m.hmu.Unlock()
}

// OnStateChange registers a session state handler.
func (m *Manager) OnStateChange(h StateHandler) {
	m.hmu.Lock()
	m.stateHandlers = append(m.stateHandlers, h)
	m.hmu.Unlock()
}

// OnMessage registers a handler for envelopes received on direct channels.
func (m *Manager) OnMessage(h MessageHandler) {
	m.hmu.Lock()
	m.messageHandlers = append(m.messageHandlers, h)
	m.hmu.Unlock()
}

// OnRelayState registers a handler for relay online/offline transitions.
func (m *Manager) OnRelayState(h RelayHandler) {
	m.hmu.Lock()
	m.relayHandlers = append(m.relayHandlers, h)
	m.hmu.Unlock()
}

// Self returns the local identity.
func (m *Manager) Self() Identity {
	return m.self
}

// Connect starts negotiating a direct channel with target. The outcome is
// reported through state-change handlers.
func (m *Manager) Connect(target string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if s, ok := m.sessions[target]; ok && s.state != StateClosed {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	if m.relay == nil || !m.relay.Connected() {
		m.mu.Unlock()
		return ErrRelayUnavailable
	}
	s := newSession(target)
	s.apply(InputConnect)
	m.sessions[target] = s
	change := m.changeLocked(s, nil)
	m.mu.Unlock()
	m.emitState(change)

	m.log.Debug().Str("target", target).Msg("connecting")

	peer, err := m.peers.NewPeer(m.peerEvents(s))
	if err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if !m.attachPeer(s, peer) {
		return nil
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return fmt.Errorf("%w: %v", ErrNegotiationFailed, err)
	}
	if err := m.signal(proto.InboundTypeOffer, target, offer); err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: %v", ErrRelayUnavailable, err))
		return fmt.Errorf("%w: %v", ErrRelayUnavailable, err)
	}
	m.descriptionSent(s)
	return nil
}

// Disconnect closes the session with handle, if any.
func (m *Manager) Disconnect(handle string) {
	m.mu.Lock()
	s := m.sessions[handle]
	m.mu.Unlock()
	if s != nil {
		m.closeSession(s, InputCancel, nil)
	}
}

// Send delivers env to handle over its direct channel. It returns false if
// there is no established session or the write failed.
func (m *Manager) Send(handle string, env *proto.Envelope) bool {
	m.mu.Lock()
	s, ok := m.sessions[handle]
	if !ok || s.state != StateEstablished {
		m.mu.Unlock()
		return false
	}
	peer := s.peer
	m.mu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	data, err := env.Encode()
	if err != nil {
		m.log.Warn().Err(err).Str("target", handle).Msg("encode envelope")
		return false
	}
	if err := peer.Send(data); err != nil {
		m.log.Debug().Err(err).Str("target", handle).Msg("direct send failed")
		return false
	}
	return true
}

// Broadcast sends env to every established session and returns how many
// sends succeeded.
func (m *Manager) Broadcast(env *proto.Envelope) int {
	delivered := 0
	for _, handle := range m.ConnectedPeers() {
		if m.Send(handle, env) {
			delivered++
		}
	}
	return delivered
}

// DisconnectAll closes every session and the relay transport. Safe to call
// more than once.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	relay := m.relay
	m.mu.Unlock()

	for _, s := range sessions {
		m.closeSession(s, InputCancel, nil)
	}
	if relay != nil {
		if err := relay.Close(); err != nil {
			m.log.Warn().Err(err).Msg("close relay")
		}
	}
	m.log.Info().Int("sessions", len(sessions)).Msg("disconnected all")
}

// Peers returns the current relay presence list.
func (m *Manager) Peers() []proto.Presence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]proto.Presence, len(m.presence))
	copy(out, m.presence)
	return out
}

// ConnectedPeers returns the handles of established sessions.
func (m *Manager) ConnectedPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for handle, s := range m.sessions {
		if s.state == StateEstablished {
			out = append(out, handle)
		}
	}
	return out
}

// PeerInfo returns the identity a remote announced in its handshake.
func (m *Manager) PeerInfo(handle string) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[handle]
	if !ok || s.remote == nil {
		return Identity{}, false
	}
	return *s.remote, true
}

// Session returns a view of the session with handle.
func (m *Manager) Session(handle string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[handle]
	if !ok {
		return SessionInfo{}, false
	}
	return s.info(), true
}

// IsOffline reports whether the relay is currently unreachable.
func (m *Manager) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offline
}

// SelfHandle returns the endpoint handle the relay assigned, or "".
func (m *Manager) SelfHandle() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selfHand
}

// ==== signaling.Listener implementation ====

// RelayOnline is called once the relay accepted our registration.
func (m *Manager) RelayOnline(selfHandle string) {
	m.mu.Lock()
	m.selfHand = selfHandle
	changed := m.offline
	m.offline = false
	m.mu.Unlock()

	if changed {
		m.log.Info().Str("handle", selfHandle).Msg("relay online")
		m.emitRelay(true)
	}
}

// RelayOffline is called whenever the relay connection is lost or a dial
// fails. Established sessions are left alone.
func (m *Manager) RelayOffline(err error) {
	m.mu.Lock()
	changed := !m.offline
	m.offline = true
	m.selfHand = ""
	m.presence = nil
	m.mu.Unlock()

	if changed {
		m.log.Warn().Err(err).Msg("relay offline, continuing in offline mode")
		m.emitRelay(false)
	}
}

// Snapshot replaces the presence list with the relay's view. Sessions that
// have not reached established and whose handle is absent are closed: their
// remote left while we were away and no peer-left will ever arrive.
// Established sessions keep running on the direct channel.
func (m *Manager) Snapshot(peers []proto.Presence) {
	online := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		online[p.EndpointHandle] = struct{}{}
	}

	m.mu.Lock()
	m.presence = append([]proto.Presence(nil), peers...)
	var stale []*session
	for handle, s := range m.sessions {
		if _, ok := online[handle]; ok || s.state == StateEstablished {
			continue
		}
		stale = append(stale, s)
	}
	m.mu.Unlock()

	m.emitPresence(PresenceEvent{Kind: PresenceSnapshot, Peers: peers})
	for _, s := range stale {
		m.closeSession(s, InputCancel, ErrPeerUnreachable)
	}
}

// PeerJoined adds or refreshes one presence entry.
func (m *Manager) PeerJoined(p proto.Presence) {
	m.mu.Lock()
	replaced := false
	for i := range m.presence {
		if m.presence[i].EndpointHandle == p.EndpointHandle {
			m.presence[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		m.presence = append(m.presence, p)
	}
	m.mu.Unlock()
	m.emitPresence(PresenceEvent{Kind: PresenceJoined, Peer: p})
}

// PeerLeft drops the presence entry and closes any session with handle.
func (m *Manager) PeerLeft(handle string) {
	m.mu.Lock()
	for i := range m.presence {
		if m.presence[i].EndpointHandle == handle {
			m.presence = append(m.presence[:i], m.presence[i+1:]...)
			break
		}
	}
	s := m.sessions[handle]
	m.mu.Unlock()

	m.emitPresence(PresenceEvent{Kind: PresenceLeft, Handle: handle})
	if s != nil {
		m.closeSession(s, InputCancel, nil)
	}
}

// Signal handles a negotiation message forwarded by the relay.
func (m *Manager) Signal(kind, from string, payload json.RawMessage) {
	switch kind {
	case proto.EventOffer:
		m.handleOffer(from, payload)
	case proto.EventAnswer:
		m.handleAnswer(from, payload)
	case proto.EventCandidate:
		m.handleCandidate(from, payload)
	default:
		m.log.Debug().Str("kind", kind).Str("from", from).Msg("unknown signal kind")
	}
}

func (m *Manager) handleOffer(from string, payload json.RawMessage) {
	var offer proto.SDP
	if err := json.Unmarshal(payload, &offer); err != nil {
		m.log.Warn().Err(err).Str("from", from).Msg("malformed offer, dropping")
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if existing, ok := m.sessions[from]; ok && existing.state != StateClosed {
		// Both sides offered at once: the larger handle yields so exactly
		// one negotiation survives.
		yield := existing.state == StateNegotiating && existing.role == RoleInitiator &&
			m.selfHand != "" && m.selfHand > from
		m.mu.Unlock()
		if !yield {
			m.log.Warn().Str("from", from).Str("state", existing.state.String()).Msg("offer for live session, dropping")
			return
		}
		m.log.Debug().Str("from", from).Msg("offer collision, yielding")
		m.closeSession(existing, InputCancel, nil)
		m.mu.Lock()
		if m.closed || m.sessions[from] != nil {
			m.mu.Unlock()
			return
		}
	}
	s := newSession(from)
	s.apply(InputOffer)
	m.sessions[from] = s
	change := m.changeLocked(s, nil)
	m.mu.Unlock()
	m.emitState(change)

	peer, err := m.peers.NewPeer(m.peerEvents(s))
	if err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	if !m.attachPeer(s, peer) {
		return
	}

	answer, err := peer.AcceptOffer(offer)
	if err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		return
	}
	if err := m.signal(proto.InboundTypeAnswer, from, answer); err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: %v", ErrRelayUnavailable, err))
		return
	}

	m.mu.Lock()
	var changes []StateChange
	if m.sessions[from] == s && s.apply(InputAnswerSent) {
		changes = append(changes, m.changeLocked(s, nil))
	}
	m.mu.Unlock()
	m.emitState(changes...)
	m.descriptionSent(s)
}

func (m *Manager) handleAnswer(from string, payload json.RawMessage) {
	m.mu.Lock()
	s, ok := m.sessions[from]
	if !ok || s.state != StateNegotiating || s.role != RoleInitiator || s.peer == nil {
		m.mu.Unlock()
		// Can legitimately arrive after a local cancel.
		m.log.Warn().Str("from", from).Msg("answer without initiating session, dropping")
		return
	}
	s.apply(InputAnswer)
	peer := s.peer
	change := m.changeLocked(s, nil)
	m.mu.Unlock()
	m.emitState(change)

	var answer proto.SDP
	if err := json.Unmarshal(payload, &answer); err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: malformed answer: %v", ErrNegotiationFailed, err))
		return
	}
	if err := peer.AcceptAnswer(answer); err != nil {
		m.closeSession(s, InputFailed, fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
	}
}

func (m *Manager) handleCandidate(from string, payload json.RawMessage) {
	m.mu.Lock()
	s, ok := m.sessions[from]
	if !ok || s.peer == nil || !s.apply(InputCandidate) {
		m.mu.Unlock()
		m.log.Debug().Str("from", from).Msg("candidate without live session, dropping")
		return
	}
	peer := s.peer
	m.mu.Unlock()

	var c proto.Candidate
	if err := json.Unmarshal(payload, &c); err != nil {
		m.log.Debug().Err(err).Str("from", from).Msg("malformed candidate, dropping")
		return
	}
	if err := peer.AddCandidate(c); err != nil {
		m.log.Debug().Err(err).Str("from", from).Msg("apply candidate")
	}
}

// ==== session plumbing ====

// attachPeer stores peer on s unless s was closed meanwhile, in which case
// the peer is released and false is returned.
func (m *Manager) attachPeer(s *session, peer Peer) bool {
	m.mu.Lock()
	if m.sessions[s.handle] != s || s.state == StateClosed {
		m.mu.Unlock()
		_ = peer.Close()
		return false
	}
	s.peer = peer
	m.mu.Unlock()
	return true
}

// descriptionSent releases local candidates held back until the remote
// side could have a session for them.
func (m *Manager) descriptionSent(s *session) {
	m.mu.Lock()
	if m.sessions[s.handle] != s || s.state == StateClosed {
		m.mu.Unlock()
		return
	}
	s.descSent = true
	queued := s.outCandidates
	s.outCandidates = nil
	m.mu.Unlock()

	for _, c := range queued {
		m.sendCandidate(s.handle, c)
	}
}

func (m *Manager) sendCandidate(handle string, c proto.Candidate) {
	if err := m.signal(proto.InboundTypeCandidate, handle, c); err != nil {
		m.log.Debug().Err(err).Str("target", handle).Msg("send candidate")
	}
}

func (m *Manager) peerEvents(s *session) PeerEvents {
	return PeerEvents{
		OnLocalCandidate: func(c proto.Candidate) {
			m.mu.Lock()
			if m.sessions[s.handle] != s || s.state == StateClosed {
				m.mu.Unlock()
				return
			}
			if !s.descSent {
				s.outCandidates = append(s.outCandidates, c)
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()
			m.sendCandidate(s.handle, c)
		},
		OnChannelOpen: func() {
			m.channelOpened(s)
		},
		OnChannelClose: func() {
			m.closeSession(s, InputChannelClose, nil)
		},
		OnFailed: func(err error) {
			m.closeSession(s, InputFailed, err)
		},
		OnMessage: func(data []byte) {
			m.received(s, data)
		},
	}
}

func (m *Manager) channelOpened(s *session) {
	m.mu.Lock()
	if m.sessions[s.handle] != s || !s.apply(InputChannelOpen) {
		m.mu.Unlock()
		return
	}
	change := m.changeLocked(s, nil)
	m.mu.Unlock()

	m.log.Info().Str("handle", s.handle).Str("role", s.role.String()).Msg("direct channel established")
	m.emitState(change)

	if !m.Send(s.handle, proto.NewHandshake(m.self.UserID, m.self.Name)) {
		m.log.Warn().Str("handle", s.handle).Msg("handshake send failed")
	}
}

func (m *Manager) received(s *session, data []byte) {
	env, err := proto.DecodeEnvelope(data)
	if err != nil {
		m.log.Warn().Err(err).Str("from", s.handle).Msg("malformed direct message, dropping")
		return
	}

	m.mu.Lock()
	if m.sessions[s.handle] != s || s.state == StateClosed {
		m.mu.Unlock()
		return
	}
	if env.Type == proto.DirectHandshake {
		s.remote = &Identity{UserID: env.UserID, Name: env.UserName}
	}
	m.mu.Unlock()

	m.hmu.RLock()
	handlers := m.messageHandlers
	m.hmu.RUnlock()
	for _, h := range handlers {
		h(s.handle, env)
	}
}

// closeSession moves s to closed, forgets it and releases its peer. Inputs
// for a session that is already gone are ignored.
func (m *Manager) closeSession(s *session, in Input, cause error) {
	m.mu.Lock()
	if m.sessions[s.handle] != s || !s.apply(in) {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.handle)
	peer := s.peer
	s.peer = nil
	s.outCandidates = nil
	change := m.changeLocked(s, cause)
	m.mu.Unlock()

	ev := m.log.Info()
	if cause != nil {
		ev = m.log.Warn().Err(cause)
	}
	ev.Str("handle", s.handle).Str("input", in.String()).Msg("session closed")

	if peer != nil {
		// pion's Close waits on its own goroutines; never hold up the caller,
		// which may be one of them.
		go func() { _ = peer.Close() }()
	}
	m.emitState(change)
}

func (m *Manager) changeLocked(s *session, err error) StateChange {
	return StateChange{Handle: s.handle, State: s.state, Role: s.role, Err: err}
}

func (m *Manager) signal(kind, target string, payload any) error {
	m.mu.Lock()
	relay := m.relay
	m.mu.Unlock()
	if relay == nil {
		return ErrRelayUnavailable
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.signalTimeout)
	defer cancel()
	return relay.Signal(ctx, kind, target, payload)
}

func (m *Manager) emitState(changes ...StateChange) {
	if len(changes) == 0 {
		return
	}
	m.hmu.RLock()
	handlers := m.stateHandlers
	m.hmu.RUnlock()
	for _, c := range changes {
		for _, h := range handlers {
			h(c)
		}
	}
}

func (m *Manager) emitPresence(ev PresenceEvent) {
	m.hmu.RLock()
	handlers := m.presenceHandlers
	m.hmu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (m *Manager) emitRelay(online bool) {
	m.hmu.RLock()
	handlers := m.relayHandlers
	m.hmu.RUnlock()
	for _, h := range handlers {
		h(online)
	}
}
