package mesh

import (
	"errors"
	"reflect"
	"testing"

	"github.com/vovakirdan/campusmesh/internal/proto"
)

func TestConnectTwiceIsAlreadyConnected(t *testing.T) {
	m, relay, factory, _ := newTestManager(t)

	if err := m.Connect("h2"); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := m.Connect("h2"); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}

	sent := relay.signals()
	if len(sent) != 1 || sent[0].kind != proto.InboundTypeOffer || sent[0].target != "h2" {
		t.Fatalf("unexpected relay traffic: %+v", sent)
	}

	first := factory.last(t)
	first.events.OnFailed(ErrNegotiationFailed)
	first.waitClosed(t)
	if _, ok := m.Session("h2"); ok {
		t.Fatalf("closed session still tracked")
	}

	if err := m.Connect("h2"); err != nil {
		t.Fatalf("connect after close: %v", err)
	}
	if factory.last(t) == first {
		t.Fatalf("closed session was reused")
	}
}

func TestConnectWithoutRelay(t *testing.T) {
	m := NewManager(Identity{UserID: "u1"}, &fakeFactory{}, nil)
	if err := m.Connect("h2"); !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("expected ErrRelayUnavailable without relay, got %v", err)
	}

	relay := &fakeRelay{connected: false}
	m.AttachRelay(relay)
	if err := m.Connect("h2"); !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("expected ErrRelayUnavailable with relay down, got %v", err)
	}
	if _, ok := m.Session("h2"); ok {
		t.Fatalf("failed connect must not leave a session")
	}
}

func TestConnectClosesSessionWhenOfferCannotBeSent(t *testing.T) {
	m, relay, factory, log := newTestManager(t)
	relay.failSends = true

	if err := m.Connect("h2"); !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("expected ErrRelayUnavailable, got %v", err)
	}
	factory.last(t).waitClosed(t)
	want := []State{StateNegotiating, StateClosed}
	if got := log.states("h2"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
}

func TestInitiatorReachesEstablished(t *testing.T) {
	m, _, factory, log := newTestManager(t)

	peer := establishInitiator(t, m, factory, "h2")

	want := []State{StateNegotiating, StateChannelPending, StateEstablished}
	if got := log.states("h2"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	if peer.answer == nil || peer.answer.SDP != "remote" {
		t.Fatalf("answer not applied: %+v", peer.answer)
	}

	sent := peer.sentEnvelopes(t)
	if len(sent) != 1 || sent[0].Type != proto.DirectHandshake || sent[0].UserID != "u-self" {
		t.Fatalf("expected handshake on open, got %+v", sent)
	}
}

func TestResponderAnswersOffer(t *testing.T) {
	m, relay, factory, log := newTestManager(t)

	m.Signal(proto.EventOffer, "h3", mustJSON(t, proto.SDP{Type: "offer", SDP: "remote-offer"}))

	sent := relay.signals()
	if len(sent) != 1 || sent[0].kind != proto.InboundTypeAnswer || sent[0].target != "h3" {
		t.Fatalf("expected answer to h3, got %+v", sent)
	}
	info, ok := m.Session("h3")
	if !ok || info.Role != RoleResponder || info.State != StateChannelPending {
		t.Fatalf("unexpected session: %+v", info)
	}

	factory.last(t).events.OnChannelOpen()
	want := []State{StateNegotiating, StateChannelPending, StateEstablished}
	if got := log.states("h3"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
}

func TestOfferForLiveSessionIsDropped(t *testing.T) {
	m, relay, factory, _ := newTestManager(t)
	establishInitiator(t, m, factory, "h2")
	before := len(relay.signals())

	m.Signal(proto.EventOffer, "h2", mustJSON(t, proto.SDP{Type: "offer", SDP: "again"}))

	if len(relay.signals()) != before {
		t.Fatalf("offer for established session was answered")
	}
	if info, _ := m.Session("h2"); info.State != StateEstablished {
		t.Fatalf("session disturbed: %s", info.State)
	}
}

func TestOfferCollisionLargerHandleYields(t *testing.T) {
	m, relay, factory, _ := newTestManager(t) // self handle "h-self"

	// "h-a" < "h-self": we yield and answer their offer.
	if err := m.Connect("h-a"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ours := factory.last(t)
	m.Signal(proto.EventOffer, "h-a", mustJSON(t, proto.SDP{Type: "offer", SDP: "theirs"}))
	ours.waitClosed(t)
	if info, _ := m.Session("h-a"); info.Role != RoleResponder {
		t.Fatalf("expected to yield to responder role, got %+v", info)
	}

	// "h-z" > "h-self": we keep our offer and drop theirs.
	if err := m.Connect("h-z"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	before := len(relay.signals())
	m.Signal(proto.EventOffer, "h-z", mustJSON(t, proto.SDP{Type: "offer", SDP: "theirs"}))
	if info, _ := m.Session("h-z"); info.Role != RoleInitiator {
		t.Fatalf("expected to keep initiator role, got %+v", info)
	}
	if len(relay.signals()) != before {
		t.Fatalf("colliding offer should not be answered")
	}
}

func TestLateAnswerIsDropped(t *testing.T) {
	m, _, factory, _ := newTestManager(t)

	// No session at all.
	m.Signal(proto.EventAnswer, "ghost", mustJSON(t, proto.SDP{Type: "answer", SDP: "x"}))
	if _, ok := m.Session("ghost"); ok {
		t.Fatalf("answer created a session")
	}

	// Established session.
	peer := establishInitiator(t, m, factory, "h2")
	peer.answer = nil
	m.Signal(proto.EventAnswer, "h2", mustJSON(t, proto.SDP{Type: "answer", SDP: "late"}))
	if peer.answer != nil {
		t.Fatalf("late answer applied")
	}
	if info, _ := m.Session("h2"); info.State != StateEstablished {
		t.Fatalf("late answer changed state to %s", info.State)
	}
}

func TestCandidates(t *testing.T) {
	m, _, factory, _ := newTestManager(t)

	m.Signal(proto.EventCandidate, "ghost", mustJSON(t, proto.Candidate{Candidate: "candidate:1"}))

	if err := m.Connect("h2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	peer := factory.last(t)
	m.Signal(proto.EventCandidate, "h2", mustJSON(t, proto.Candidate{Candidate: "candidate:2"}))
	if len(peer.candidates) != 1 || peer.candidates[0].Candidate != "candidate:2" {
		t.Fatalf("candidate not applied: %+v", peer.candidates)
	}

	m.Disconnect("h2")
	m.Signal(proto.EventCandidate, "h2", mustJSON(t, proto.Candidate{Candidate: "candidate:3"}))
	if len(peer.candidates) != 1 {
		t.Fatalf("candidate after close applied: %+v", peer.candidates)
	}
}

func TestLocalCandidatesFollowOffer(t *testing.T) {
	m, relay, factory, _ := newTestManager(t)
	factory.earlyCandidate = &proto.Candidate{Candidate: "candidate:early"}

	if err := m.Connect("h2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	factory.last(t).events.OnLocalCandidate(proto.Candidate{Candidate: "candidate:late"})

	var kinds []string
	for _, s := range relay.signals() {
		kinds = append(kinds, s.kind)
	}
	want := []string{proto.InboundTypeOffer, proto.InboundTypeCandidate, proto.InboundTypeCandidate}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("relay order = %v, want %v", kinds, want)
	}
}

func TestSendRequiresEstablished(t *testing.T) {
	m, _, factory, _ := newTestManager(t)

	if m.Send("nobody", proto.NewChat("me", "hi")) {
		t.Fatalf("send to unknown handle succeeded")
	}

	if err := m.Connect("h2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	peer := factory.last(t)
	if m.Send("h2", proto.NewChat("me", "hi")) {
		t.Fatalf("send to negotiating session succeeded")
	}
	if len(peer.sent) != 0 {
		t.Fatalf("send had side effects: %d writes", len(peer.sent))
	}
}

func TestSendPreservesOrder(t *testing.T) {
	m, _, factory, _ := newTestManager(t)
	peer := establishInitiator(t, m, factory, "h2")

	for _, text := range []string{"one", "two", "three"} {
		if !m.Send("h2", proto.NewChat("me", text)) {
			t.Fatalf("send %q failed", text)
		}
	}
	sent := peer.sentEnvelopes(t)[1:] // skip handshake
	for i, text := range []string{"one", "two", "three"} {
		if sent[i].Message != text {
			t.Fatalf("message %d = %q, want %q", i, sent[i].Message, text)
		}
	}
}

func TestBroadcastCountsEstablishedOnly(t *testing.T) {
	m, _, factory, _ := newTestManager(t)

	establishInitiator(t, m, factory, "h2")
	establishInitiator(t, m, factory, "h3")
	if err := m.Connect("h4"); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if n := m.Broadcast(proto.NewChat("me", "hello all")); n != 2 {
		t.Fatalf("broadcast delivered to %d peers, want 2", n)
	}
	if got := len(m.ConnectedPeers()); got != 2 {
		t.Fatalf("connected peers = %d, want 2", got)
	}
}

func TestPeerLeftClosesSessionMidNegotiation(t *testing.T) {
	m, _, factory, log := newTestManager(t)

	m.PeerJoined(proto.Presence{EndpointHandle: "h2", UserID: "u2", Name: "Two"})
	if err := m.Connect("h2"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	peer := factory.last(t)

	m.PeerLeft("h2")
	peer.waitClosed(t)

	want := []State{StateNegotiating, StateClosed}
	if got := log.states("h2"); !reflect.DeepEqual(got, want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	if len(m.Peers()) != 0 {
		t.Fatalf("presence not updated: %+v", m.Peers())
	}

	// A late answer for the closed session is harmless.
	m.Signal(proto.EventAnswer, "h2", mustJSON(t, proto.SDP{Type: "answer", SDP: "late"}))
	if peer.answer != nil {
		t.Fatalf("answer applied to closed session")
	}
}

func TestDisconnectAllIsIdempotent(t *testing.T) {
	m, relay, factory, _ := newTestManager(t)
	p2 := establishInitiator(t, m, factory, "h2")
	if err := m.Connect("h3"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	p3 := factory.last(t)

	m.DisconnectAll()
	m.DisconnectAll()

	p2.waitClosed(t)
	p3.waitClosed(t)
	if relay.closed != 1 {
		t.Fatalf("relay closed %d times, want 1", relay.closed)
	}
	if err := m.Connect("h4"); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}

func TestHandshakeAndMessageHandlers(t *testing.T) {
	m, _, factory, _ := newTestManager(t)
	peer := establishInitiator(t, m, factory, "h2")

	var order []string
	m.OnMessage(func(handle string, env *proto.Envelope) { order = append(order, "first:"+env.Type) })
	m.OnMessage(func(handle string, env *proto.Envelope) { order = append(order, "second:"+env.Type) })

	hs, _ := proto.NewHandshake("u2", "Two").Encode()
	peer.events.OnMessage(hs)
	peer.events.OnMessage([]byte("not json"))

	info, ok := m.PeerInfo("h2")
	if !ok || info.UserID != "u2" || info.Name != "Two" {
		t.Fatalf("unexpected peer info: %+v (%v)", info, ok)
	}
	want := []string{"first:handshake", "second:handshake"}
	if !reflect.DeepEqual(order, want) {
		t.Fatalf("handler order = %v, want %v", order, want)
	}
}

func TestRelayStateNotifications(t *testing.T) {
	m := NewManager(Identity{UserID: "u1"}, &fakeFactory{}, nil)
	var states []bool
	m.OnRelayState(func(online bool) { states = append(states, online) })

	if !m.IsOffline() {
		t.Fatalf("manager should start offline")
	}
	m.RelayOnline("h1")
	m.RelayOffline(errors.New("boom"))
	m.RelayOffline(errors.New("still down"))
	m.RelayOnline("h9")

	want := []bool{true, false, true}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("relay states = %v, want %v", states, want)
	}
	if m.SelfHandle() != "h9" {
		t.Fatalf("self handle = %q", m.SelfHandle())
	}
}

func TestOfflineKeepsEstablishedSessions(t *testing.T) {
	m, relay, factory, _ := newTestManager(t)
	establishInitiator(t, m, factory, "h2")

	relay.Close()
	m.RelayOffline(errors.New("relay gone"))

	if !m.Send("h2", proto.NewChat("me", "still here")) {
		t.Fatalf("established session should survive relay loss")
	}
	if err := m.Connect("h3"); !errors.Is(err, ErrRelayUnavailable) {
		t.Fatalf("expected ErrRelayUnavailable, got %v", err)
	}
}

func TestSnapshotClosesStaleNegotiation(t *testing.T) {
	m, relay, factory, log := newTestManager(t)
	establishInitiator(t, m, factory, "h2")

	m.PeerJoined(proto.Presence{EndpointHandle: "h3", UserID: "u3", Name: "Three"})
	if err := m.Connect("h3"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	pending := factory.last(t)

	// Relay drops while h3 is still negotiating; h3 leaves meanwhile.
	relay.Close()
	m.RelayOffline(errors.New("relay gone"))
	relay.mu.Lock()
	relay.connected = true
	relay.mu.Unlock()
	m.RelayOnline("h-self2")
	m.Snapshot(nil)

	pending.waitClosed(t)
	if got := log.states("h3"); !reflect.DeepEqual(got, []State{StateNegotiating, StateClosed}) {
		t.Fatalf("h3 states = %v", got)
	}
	if _, ok := m.Session("h3"); ok {
		t.Fatalf("stale session still tracked")
	}
	if info, ok := m.Session("h2"); !ok || info.State != StateEstablished {
		t.Fatalf("established session should survive the snapshot, got %+v ok=%v", info, ok)
	}
	if !m.Send("h2", proto.NewChat("me", "still here")) {
		t.Fatalf("send over surviving session failed")
	}

	m.PeerJoined(proto.Presence{EndpointHandle: "h3", UserID: "u3", Name: "Three"})
	if err := m.Connect("h3"); err != nil {
		t.Fatalf("reconnect after stale close: %v", err)
	}
}
