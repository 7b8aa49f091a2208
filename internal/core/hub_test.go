package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func startHub(t *testing.T, opts ...Option) *Hub {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	hub := NewHub(nil, opts...)
	go hub.Run(ctx)
	return hub
}

func register(t *testing.T, hub *Hub, handle, userID, name string) *Client {
	t.Helper()
	c := NewClient(handle, 16)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandRegister, Identity: Identity{UserID: userID, Name: name}}
	ev := mustEvent(t, c.Events, EventRegistered)
	if ev.Handle != handle {
		t.Fatalf("registered handle = %q, want %q", ev.Handle, handle)
	}
	return c
}

func TestHubSnapshotAndPeerJoined(t *testing.T) {
	hub := startHub(t)

	x := register(t, hub, "hx", "ux", "X")
	snap := mustEvent(t, x.Events, EventSnapshot)
	if len(snap.Snapshot) != 0 {
		t.Fatalf("first client should see empty snapshot, got %+v", snap.Snapshot)
	}

	y := register(t, hub, "hy", "uy", "Y")
	snap = mustEvent(t, y.Events, EventSnapshot)
	if len(snap.Snapshot) != 1 || snap.Snapshot[0].Handle != "hx" || snap.Snapshot[0].Name != "X" {
		t.Fatalf("unexpected snapshot for Y: %+v", snap.Snapshot)
	}

	joined := mustEvent(t, x.Events, EventPeerJoined)
	if joined.Presence == nil || joined.Presence.Handle != "hy" || joined.Presence.UserID != "uy" {
		t.Fatalf("unexpected peer-joined for X: %+v", joined)
	}
}

func TestHubForwardsSignalOnlyToTarget(t *testing.T) {
	hub := startHub(t)

	x := register(t, hub, "hx", "ux", "X")
	y := register(t, hub, "hy", "uy", "Y")
	z := register(t, hub, "hz", "uz", "Z")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	x.Commands <- &Command{Kind: CommandSignal, Signal: Signal{Kind: SignalOffer, Peer: "hy", Payload: payload}}

	ev := mustEvent(t, y.Events, EventSignal)
	if ev.Signal.Peer != "hx" || ev.Signal.Kind != SignalOffer {
		t.Fatalf("unexpected signal: %+v", ev.Signal)
	}
	if string(ev.Signal.Payload) != string(payload) {
		t.Fatalf("payload modified: %s", ev.Signal.Payload)
	}

	assertNoEvent(t, z.Events, EventSignal, 50*time.Millisecond)
}

func TestHubDropsSignalToUnknownTarget(t *testing.T) {
	hub := startHub(t)

	x := register(t, hub, "hx", "ux", "X")
	x.Commands <- &Command{Kind: CommandSignal, Signal: Signal{Kind: SignalAnswer, Peer: "nobody", Payload: json.RawMessage(`{}`)}}

	// The hub keeps serving the sender after the drop.
	y := register(t, hub, "hy", "uy", "Y")
	mustEvent(t, x.Events, EventPeerJoined)
	x.Commands <- &Command{Kind: CommandSignal, Signal: Signal{Kind: SignalCandidate, Peer: "hy", Payload: json.RawMessage(`{}`)}}
	mustEvent(t, y.Events, EventSignal)
}

func TestHubPeerLeftOnDisconnect(t *testing.T) {
	hub := startHub(t)

	x := register(t, hub, "hx", "ux", "X")
	y := register(t, hub, "hy", "uy", "Y")

	hub.UnregisterClient(y)
	left := mustEvent(t, x.Events, EventPeerLeft)
	if left.Handle != "hy" {
		t.Fatalf("unexpected peer-left handle: %q", left.Handle)
	}

	select {
	case <-y.Done():
	case <-time.After(time.Second):
		t.Fatalf("detached client not closed")
	}
	if hub.Registry().Len() != 1 {
		t.Fatalf("expected 1 registered endpoint, got %d", hub.Registry().Len())
	}
}

func TestHubNoPeerLeftForUnregisteredClient(t *testing.T) {
	hub := startHub(t)

	x := register(t, hub, "hx", "ux", "X")
	anon := NewClient("anon", 4)
	hub.RegisterClient(anon)
	hub.UnregisterClient(anon)
	<-anon.Done()

	y := register(t, hub, "hy", "uy", "Y")
	ev := mustEvent(t, x.Events, EventPeerJoined)
	if ev.Presence.Handle != y.Handle {
		t.Fatalf("expected peer-joined for hy, got %+v", ev)
	}
	select {
	case ev := <-x.Events:
		t.Fatalf("unexpected event after peer-joined: %+v", ev)
	default:
	}
}

func TestHubRegisterRequiresUserID(t *testing.T) {
	hub := startHub(t)

	c := NewClient("h1", 4)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandRegister, Identity: Identity{Name: "nameless"}}

	ev := mustEvent(t, c.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeBadRequest {
		t.Fatalf("expected bad_request, got %+v", ev)
	}
	if hub.Registry().Len() != 0 {
		t.Fatalf("invalid register must not create presence")
	}
}

func TestHubAuthenticatorRejects(t *testing.T) {
	hub := startHub(t, WithAuthenticator(func(token string, id Identity) error {
		if token != "good" {
			return errors.New("bad token")
		}
		return nil
	}))

	c := NewClient("h1", 4)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandRegister, Identity: Identity{UserID: "u1"}, Token: "bad"}
	ev := mustEvent(t, c.Events, EventError)
	if ev.Error.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", ev.Error)
	}

	c.Commands <- &Command{Kind: CommandRegister, Identity: Identity{UserID: "u1"}, Token: "good"}
	mustEvent(t, c.Events, EventRegistered)
}

func TestHubSignalRequiresRegistration(t *testing.T) {
	hub := startHub(t)

	y := register(t, hub, "hy", "uy", "Y")
	anon := NewClient("anon", 4)
	hub.RegisterClient(anon)
	anon.Commands <- &Command{Kind: CommandSignal, Signal: Signal{Kind: SignalOffer, Peer: "hy"}}

	ev := mustEvent(t, anon.Events, EventError)
	if ev.Error.Code != ErrCodeNotRegistered {
		t.Fatalf("expected not_registered, got %+v", ev.Error)
	}
	assertNoEvent(t, y.Events, EventSignal, 50*time.Millisecond)
}
