package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campusmesh/internal/metrics"
)

// Authenticator validates an optional registration token against the
// declared identity. A nil Authenticator accepts everyone.
type Authenticator func(token string, id Identity) error

// Hub is the signaling relay core. It owns the live client set and the
// presence registry, and runs on a single goroutine.
type Hub struct {
	registry *Registry
	clients  map[string]*Client

	attach   chan *Client
	detach   chan *Client
	commands chan clientCommand

	log            *zerolog.Logger
	metrics        *metrics.Relay
	auth           Authenticator
	statusInterval time.Duration
	done           chan struct{}
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics records relay counters on m.
func WithMetrics(m *metrics.Relay) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithAuthenticator enables token checks on register.
func WithAuthenticator(auth Authenticator) Option {
	return func(h *Hub) { h.auth = auth }
}

// WithStatusInterval sets how often the hub logs its active connection count.
// Zero disables the status log.
func WithStatusInterval(d time.Duration) Option {
	return func(h *Hub) { h.statusInterval = d }
}

// NewHub creates a new relay hub.
func NewHub(logger *zerolog.Logger, opts ...Option) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{
		registry: NewRegistry(),
		clients:  make(map[string]*Client),
		attach:   make(chan *Client),
		detach:   make(chan *Client),
		commands: make(chan clientCommand, 64),
		log:      logger,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Registry exposes the presence registry for read-only queries.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// RegisterClient attaches a live connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.attach <- c:
	case <-h.done:
	}
}

// UnregisterClient detaches a connection. Safe to call after Run returned.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.detach <- c:
	case <-h.done:
	}
}

// Run processes hub events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	var status <-chan time.Time
	if h.statusInterval > 0 {
		ticker := time.NewTicker(h.statusInterval)
		defer ticker.Stop()
		status = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.attach:
			h.clients[c.Handle] = c
			h.metrics.ConnectionOpened()
			h.log.Debug().Str("handle", c.Handle).Msg("client attached")
			go h.pump(ctx, c)
		case c := <-h.detach:
			h.handleDetach(c)
		case cc := <-h.commands:
			if _, ok := h.clients[cc.client.Handle]; !ok {
				continue
			}
			h.handleCommand(cc.client, cc.cmd)
		case <-status:
			h.log.Info().
				Int("connections", len(h.clients)).
				Int("registered", h.registry.Len()).
				Msg("relay status")
		}
	}
}

// pump moves commands from a client's channel into the hub loop.
func (h *Hub) pump(ctx context.Context, c *Client) {
	for {
		select {
		case cmd := <-c.Commands:
			if cmd == nil {
				continue
			}
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.gone:
				return
			case <-ctx.Done():
				return
			}
		case <-c.gone:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandRegister:
		h.handleRegister(c, cmd)
	case CommandSignal:
		h.handleSignal(c, cmd.Signal)
	default:
		h.sendError(c, coreError(ErrCodeInvalidMessage, "unknown command"))
	}
}

func (h *Hub) handleRegister(c *Client, cmd *Command) {
	if cmd.Identity.UserID == "" {
		h.sendError(c, coreError(ErrCodeBadRequest, "userId is required"))
		return
	}
	if h.auth != nil {
		if err := h.auth(cmd.Token, cmd.Identity); err != nil {
			h.log.Debug().Err(err).Str("handle", c.Handle).Msg("register rejected")
			h.sendError(c, coreError(ErrCodeUnauthorized, "invalid token"))
			return
		}
	}

	// Snapshot is taken before the registration so it never contains the caller.
	snapshot := h.registry.Snapshot(c.Handle)
	rec := h.registry.Register(c.Handle, cmd.Identity)
	h.metrics.SetRegistered(h.registry.Len())

	h.log.Info().
		Str("handle", c.Handle).
		Str("user_id", rec.UserID).
		Str("name", rec.Name).
		Msg("endpoint registered")

	h.deliver(c, &Event{Kind: EventRegistered, Handle: c.Handle})
	h.deliver(c, &Event{Kind: EventSnapshot, Snapshot: snapshot})
	h.metrics.PresenceSent(EventSnapshot.String())

	joined := rec
	for handle, other := range h.clients {
		if handle == c.Handle {
			continue
		}
		h.deliver(other, &Event{Kind: EventPeerJoined, Presence: &joined})
		h.metrics.PresenceSent(EventPeerJoined.String())
	}
}

func (h *Hub) handleSignal(c *Client, sig Signal) {
	if _, ok := h.registry.Get(c.Handle); !ok {
		h.sendError(c, coreError(ErrCodeNotRegistered, "register before signaling"))
		return
	}
	target, ok := h.clients[sig.Peer]
	if !ok {
		h.metrics.Dropped(string(sig.Kind), metrics.DropUnknownTarget)
		h.log.Debug().
			Str("from", c.Handle).
			Str("target", sig.Peer).
			Str("kind", string(sig.Kind)).
			Msg("signal target not connected, dropping")
		return
	}
	h.deliver(target, &Event{
		Kind: EventSignal,
		Signal: &Signal{
			Kind:    sig.Kind,
			Peer:    c.Handle,
			Payload: sig.Payload,
		},
	})
	h.metrics.SignalForwarded(string(sig.Kind))
}

func (h *Hub) handleDetach(c *Client) {
	if existing, ok := h.clients[c.Handle]; !ok || existing != c {
		return
	}
	h.drop(c)

	if !h.registry.Unregister(c.Handle) {
		return
	}
	h.metrics.SetRegistered(h.registry.Len())
	h.log.Info().Str("handle", c.Handle).Msg("endpoint left")

	for _, other := range h.clients {
		h.deliver(other, &Event{Kind: EventPeerLeft, Handle: c.Handle})
		h.metrics.PresenceSent(EventPeerLeft.String())
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c.Handle)
	close(c.gone)
	close(c.Events)
	h.metrics.ConnectionClosed()
}

func (h *Hub) sendError(c *Client, err *CoreError) {
	h.deliver(c, &Event{Kind: EventError, Error: err})
}

// deliver never blocks the hub; a full client queue loses the event.
func (h *Hub) deliver(c *Client, ev *Event) {
	select {
	case c.Events <- ev:
	default:
		h.metrics.Dropped(ev.Kind.String(), metrics.DropSlowConsumer)
		h.log.Warn().
			Str("handle", c.Handle).
			Str("event", ev.Kind.String()).
			Msg("client event queue full, dropping event")
	}
}
