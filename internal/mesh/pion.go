package mesh

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/vovakirdan/campusmesh/internal/proto"
)

// ChannelLabel names the single ordered data channel each session uses.
const ChannelLabel = "campusmesh"

var errChannelNotOpen = errors.New("data channel not open")

// PionFactory builds pion-backed peers.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory creates a factory using iceServers. includeLoopback adds
// 127.0.0.1 host candidates, which single-host setups need.
func NewPionFactory(iceServers []webrtc.ICEServer, includeLoopback bool) *PionFactory {
	se := webrtc.SettingEngine{}
	se.SetIncludeLoopbackCandidate(includeLoopback)
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		config: webrtc.Configuration{ICEServers: iceServers},
	}
}

// NewPeer creates a peer connection wired to events.
func (f *PionFactory) NewPeer(events PeerEvents) (Peer, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	p := &pionPeer{pc: pc, events: events}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil || events.OnLocalCandidate == nil {
			return
		}
		events.OnLocalCandidate(proto.CandidateFromPion(c.ToJSON()))
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			if events.OnFailed != nil {
				events.OnFailed(fmt.Errorf("%w: connection %s", ErrNegotiationFailed, s))
			}
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			_ = dc.Close()
			return
		}
		p.attach(dc)
	})
	return p, nil
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	events PeerEvents

	mu        sync.Mutex
	dc        *webrtc.DataChannel
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func (p *pionPeer) attach(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		if p.events.OnChannelOpen != nil {
			p.events.OnChannelOpen()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.events.OnMessage != nil {
			p.events.OnMessage(msg.Data)
		}
	})
	dc.OnClose(func() {
		if p.events.OnChannelClose != nil {
			p.events.OnChannelClose()
		}
	})
	dc.OnError(func(err error) {
		if p.events.OnFailed != nil {
			p.events.OnFailed(fmt.Errorf("%w: %v", ErrNegotiationFailed, err))
		}
	})
}

func (p *pionPeer) CreateOffer() (proto.SDP, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return proto.SDP{}, fmt.Errorf("create data channel: %w", err)
	}
	p.attach(dc)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return proto.SDP{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return proto.SDP{}, fmt.Errorf("set local offer: %w", err)
	}
	return proto.SDPFromPion(offer), nil
}

func (p *pionPeer) AcceptOffer(offer proto.SDP) (proto.SDP, error) {
	desc, err := offer.ToPion()
	if err != nil {
		return proto.SDP{}, err
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return proto.SDP{}, fmt.Errorf("expected offer, got %s", desc.Type)
	}
	if err := p.setRemote(desc); err != nil {
		return proto.SDP{}, err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return proto.SDP{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return proto.SDP{}, fmt.Errorf("set local answer: %w", err)
	}
	return proto.SDPFromPion(answer), nil
}

func (p *pionPeer) AcceptAnswer(answer proto.SDP) error {
	desc, err := answer.ToPion()
	if err != nil {
		return err
	}
	if desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("expected answer, got %s", desc.Type)
	}
	return p.setRemote(desc)
}

// setRemote applies desc and then any candidates that arrived before it.
func (p *pionPeer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote %s: %w", desc.Type, err)
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("add queued candidate: %w", err)
		}
	}
	return nil
}

func (p *pionPeer) AddCandidate(c proto.Candidate) error {
	init := c.ToPion()

	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (p *pionPeer) Send(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return errChannelNotOpen
	}
	// Text frames keep the channel readable by browser peers.
	return dc.SendText(string(data))
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
