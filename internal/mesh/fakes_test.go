package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/campusmesh/internal/proto"
)

type sentSignal struct {
	kind    string
	target  string
	payload json.RawMessage
}

type fakeRelay struct {
	mu        sync.Mutex
	connected bool
	failSends bool
	sent      []sentSignal
	closed    int
}

func (r *fakeRelay) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected
}

func (r *fakeRelay) Signal(_ context.Context, kind, target string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connected || r.failSends {
		return errors.New("relay down")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, sentSignal{kind: kind, target: target, payload: raw})
	return nil
}

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	r.closed++
	r.connected = false
	r.mu.Unlock()
	return nil
}

func (r *fakeRelay) signals() []sentSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentSignal(nil), r.sent...)
}

type fakePeer struct {
	events PeerEvents

	// earlyCandidate is emitted while the offer or answer is being created.
	earlyCandidate *proto.Candidate

	mu         sync.Mutex
	answer     *proto.SDP
	candidates []proto.Candidate
	sent       [][]byte
	failSend   bool
	closed     chan struct{}
	closeOnce  sync.Once
}

func (p *fakePeer) CreateOffer() (proto.SDP, error) {
	if p.earlyCandidate != nil {
		p.events.OnLocalCandidate(*p.earlyCandidate)
	}
	return proto.SDP{Type: "offer", SDP: "fake-offer"}, nil
}

func (p *fakePeer) AcceptOffer(offer proto.SDP) (proto.SDP, error) {
	if offer.Type != "offer" {
		return proto.SDP{}, errors.New("not an offer")
	}
	if p.earlyCandidate != nil {
		p.events.OnLocalCandidate(*p.earlyCandidate)
	}
	return proto.SDP{Type: "answer", SDP: "fake-answer"}, nil
}

func (p *fakePeer) AcceptAnswer(answer proto.SDP) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answer = &answer
	return nil
}

func (p *fakePeer) AddCandidate(c proto.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSend {
		return errors.New("send failed")
	}
	p.sent = append(p.sent, append([]byte(nil), data...))
	return nil
}

func (p *fakePeer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePeer) sentEnvelopes(t *testing.T) []*proto.Envelope {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*proto.Envelope, 0, len(p.sent))
	for _, raw := range p.sent {
		env, err := proto.DecodeEnvelope(raw)
		if err != nil {
			t.Fatalf("decode sent envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (p *fakePeer) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-p.closed:
	case <-time.After(time.Second):
		t.Fatalf("peer was not closed")
	}
}

type fakeFactory struct {
	mu             sync.Mutex
	peers          []*fakePeer
	fail           bool
	earlyCandidate *proto.Candidate
}

func (f *fakeFactory) NewPeer(events PeerEvents) (Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("no transport")
	}
	p := &fakePeer{events: events, earlyCandidate: f.earlyCandidate, closed: make(chan struct{})}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) last(t *testing.T) *fakePeer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		t.Fatalf("no peer created")
	}
	return f.peers[len(f.peers)-1]
}

type stateLog struct {
	mu      sync.Mutex
	changes []StateChange
}

func (l *stateLog) record(c StateChange) {
	l.mu.Lock()
	l.changes = append(l.changes, c)
	l.mu.Unlock()
}

func (l *stateLog) states(handle string) []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []State
	for _, c := range l.changes {
		if c.Handle == handle {
			out = append(out, c.State)
		}
	}
	return out
}

func newTestManager(t *testing.T) (*Manager, *fakeRelay, *fakeFactory, *stateLog) {
	t.Helper()
	relay := &fakeRelay{connected: true}
	factory := &fakeFactory{}
	m := NewManager(Identity{UserID: "u-self", Name: "Self"}, factory, nil)
	m.AttachRelay(relay)
	m.RelayOnline("h-self")

	log := &stateLog{}
	m.OnStateChange(log.record)
	return m, relay, factory, log
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// establishInitiator drives a Connect to handle all the way to established.
func establishInitiator(t *testing.T, m *Manager, f *fakeFactory, handle string) *fakePeer {
	t.Helper()
	if err := m.Connect(handle); err != nil {
		t.Fatalf("connect %s: %v", handle, err)
	}
	peer := f.last(t)
	m.Signal(proto.EventAnswer, handle, mustJSON(t, proto.SDP{Type: "answer", SDP: "remote"}))
	peer.events.OnChannelOpen()
	if info, _ := m.Session(handle); info.State != StateEstablished {
		t.Fatalf("session %s not established: %s", handle, info.State)
	}
	return peer
}
