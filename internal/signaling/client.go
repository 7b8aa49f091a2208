// Package signaling is the client side of the relay protocol: it keeps one
// WebSocket to the relay registered and hands presence and negotiation
// traffic to a Listener.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/campusmesh/internal/proto"
)

// ErrNotConnected is returned by Signal while no registered relay session exists.
var ErrNotConnected = errors.New("relay not connected")

// Listener receives relay traffic. Calls happen on the client's read
// goroutine, one at a time.
type Listener interface {
	RelayOnline(selfHandle string)
	RelayOffline(err error)
	Snapshot(peers []proto.Presence)
	PeerJoined(p proto.Presence)
	PeerLeft(handle string)
	Signal(kind, fromHandle string, payload json.RawMessage)
}

// Options configures a relay client.
type Options struct {
	URL          string
	UserID       string
	Name         string
	Token        string
	DialTimeout  time.Duration
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client maintains a registered relay connection, reconnecting with
// exponential backoff until Run's context is cancelled.
type Client struct {
	opts     Options
	listener Listener
	log      *zerolog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	self   string
	cancel context.CancelFunc
	closed bool
}

// New creates a relay client. Nothing is dialed until Run.
func New(opts Options, listener Listener, logger *zerolog.Logger) *Client {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReconnectMin <= 0 {
		opts.ReconnectMin = 500 * time.Millisecond
	}
	if opts.ReconnectMax < opts.ReconnectMin {
		opts.ReconnectMax = opts.ReconnectMin
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{opts: opts, listener: listener, log: logger}
}

// Connected reports whether the relay acknowledged our registration.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.self != ""
}

// Self returns the endpoint handle assigned by the relay, or "" when offline.
func (c *Client) Self() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.self
}

// Run connects and serves the relay session until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.cancel = cancel
	c.mu.Unlock()

	delay := c.opts.ReconnectMin
	for {
		registered, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if registered {
			delay = c.opts.ReconnectMin
		}
		c.log.Warn().Err(err).Dur("retry_in", delay).Msg("relay connection lost")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}
		delay *= 2
		if delay > c.opts.ReconnectMax {
			delay = c.opts.ReconnectMax
		}
	}
}

// Close stops Run and drops the relay connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// session runs one dial-register-read cycle. registered reports whether the
// relay accepted the registration before the session ended.
func (c *Client) session(ctx context.Context) (registered bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, c.opts.URL, nil)
	cancel()
	if err != nil {
		c.listener.RelayOffline(err)
		return false, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := c.register(ctx, conn); err != nil {
		c.listener.RelayOffline(err)
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	err = c.readLoop(ctx, conn, &registered)

	c.mu.Lock()
	c.conn = nil
	c.self = ""
	c.mu.Unlock()
	c.listener.RelayOffline(err)
	return registered, err
}

func (c *Client) register(ctx context.Context, conn *websocket.Conn) error {
	data, err := json.Marshal(proto.RegisterData{
		UserID:   c.opts.UserID,
		Name:     c.opts.Name,
		Token:    c.opts.Token,
		Protocol: proto.ProtocolVersion,
	})
	if err != nil {
		return fmt.Errorf("marshal register: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: proto.InboundTypeRegister, Data: data}); err != nil {
		return fmt.Errorf("send register: %w", err)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, registered *bool) error {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return err
		}

		if out.Type == proto.OutboundTypeError {
			if out.Error != nil {
				c.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("relay error")
			}
			continue
		}
		if err := c.dispatch(out, registered); err != nil {
			c.log.Warn().Err(err).Str("event", out.Event).Msg("bad relay event")
		}
	}
}

func (c *Client) dispatch(out proto.Outbound, registered *bool) error {
	switch out.Event {
	case proto.EventRegistered:
		var reg proto.Registered
		if err := json.Unmarshal(out.Data, &reg); err != nil {
			return err
		}
		c.mu.Lock()
		c.self = reg.EndpointHandle
		c.mu.Unlock()
		*registered = true
		c.log.Info().Str("handle", reg.EndpointHandle).Msg("registered with relay")
		c.listener.RelayOnline(reg.EndpointHandle)
	case proto.EventSnapshot:
		var peers []proto.Presence
		if err := json.Unmarshal(out.Data, &peers); err != nil {
			return err
		}
		c.listener.Snapshot(peers)
	case proto.EventPeerJoined:
		var p proto.Presence
		if err := json.Unmarshal(out.Data, &p); err != nil {
			return err
		}
		c.listener.PeerJoined(p)
	case proto.EventPeerLeft:
		var handle string
		if err := json.Unmarshal(out.Data, &handle); err != nil {
			return err
		}
		c.listener.PeerLeft(handle)
	case proto.EventOffer, proto.EventAnswer, proto.EventCandidate:
		var sig proto.SignalEvent
		if err := json.Unmarshal(out.Data, &sig); err != nil {
			return err
		}
		c.listener.Signal(out.Event, sig.FromHandle, sig.Payload(out.Event))
	default:
		c.log.Debug().Str("event", out.Event).Msg("ignoring unknown relay event")
	}
	return nil
}

// Signal sends a negotiation message of the given kind to target.
func (c *Client) Signal(ctx context.Context, kind, target string, payload any) error {
	c.mu.RLock()
	conn := c.conn
	ready := c.self != ""
	c.mu.RUnlock()
	if conn == nil || !ready {
		return ErrNotConnected
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	data := proto.SignalData{TargetHandle: target}
	switch kind {
	case proto.InboundTypeOffer:
		data.Offer = raw
	case proto.InboundTypeAnswer:
		data.Answer = raw
	case proto.InboundTypeCandidate:
		data.Candidate = raw
	default:
		return fmt.Errorf("unknown signal kind %q", kind)
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: kind, Data: body}); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}
