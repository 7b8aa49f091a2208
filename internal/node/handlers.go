package node

import (
	"context"
	"time"

	"github.com/vovakirdan/campusmesh/internal/cache"
	"github.com/vovakirdan/campusmesh/internal/mesh"
	"github.com/vovakirdan/campusmesh/internal/proto"
)

func (n *Node) routes() {
	n.router.Handle(proto.DirectHandshake, n.handleHandshake)
	n.router.Handle(proto.DirectChat, n.handleChat)
	n.router.Handle(proto.DirectMeetupRequest, n.handleMeetupRequest)
	n.router.Handle(proto.DirectMeetupResponse, n.handleMeetupResponse)
	n.router.Handle(proto.DirectSync, n.handleSync)
}

func (n *Node) handleHandshake(handle string, env *proto.Envelope) {
	if env.UserID == "" {
		n.log.Warn().Str("from", handle).Msg("handshake without user id")
		return
	}
	id := mesh.Identity{UserID: env.UserID, Name: env.UserName}
	n.log.Info().Str("handle", handle).Str("user_id", id.UserID).Str("name", id.Name).Msg("peer identified")

	n.writer.PutPeer(cache.Peer{UserID: id.UserID, Name: id.Name, UpdatedAt: time.Now()})
	if n.hooks.PeerIdentified != nil {
		n.hooks.PeerIdentified(handle, id)
	}

	n.writer.Submit("flush_outbox", func(ctx context.Context, s cache.Store) error {
		return n.flushOutbox(ctx, s, handle)
	})
	n.writer.Submit("send_sync", func(ctx context.Context, s cache.Store) error {
		return n.sendSync(ctx, s, handle, id.UserID)
	})
}

// flushOutbox resends pending broadcasts to a newly identified peer.
func (n *Node) flushOutbox(ctx context.Context, s cache.Store, handle string) error {
	pending, err := s.ListMessages(ctx, cache.MessageFilter{Status: cache.MessagePending})
	if err != nil {
		return err
	}
	for _, m := range pending {
		env := proto.NewChat(m.Sender, m.Body)
		env.Timestamp = m.CreatedAt.UnixMilli()
		if !n.mesh.Send(handle, env) {
			// Peer went away; the rest stays queued for the next one.
			return nil
		}
		if err := s.UpdateMessageStatus(ctx, m.ID, cache.MessageSent); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		n.log.Info().Str("handle", handle).Int("count", len(pending)).Msg("flushed pending messages")
	}
	return nil
}

// sendSync shares cached peer identities, minus the recipient and ourselves.
func (n *Node) sendSync(ctx context.Context, s cache.Store, handle, remoteUserID string) error {
	peers, err := s.ListPeers(ctx)
	if err != nil {
		return err
	}
	shared := make([]proto.SyncPeer, 0, len(peers))
	for _, p := range peers {
		if p.UserID == remoteUserID || p.UserID == n.self.UserID {
			continue
		}
		shared = append(shared, proto.SyncPeer{UserID: p.UserID, Name: p.Name})
	}
	if len(shared) == 0 {
		return nil
	}
	n.mesh.Send(handle, proto.NewSync(shared))
	return nil
}

func (n *Node) handleChat(handle string, env *proto.Envelope) {
	n.writer.SaveMessage(cache.Message{
		PeerID:    n.peerKey(handle),
		Sender:    env.Sender,
		Body:      env.Message,
		Status:    cache.MessageReceived,
		CreatedAt: env.SentAt(),
	})
	if n.hooks.Chat != nil {
		n.hooks.Chat(handle, env.Sender, env.Message)
	}
}

func (n *Node) handleMeetupRequest(handle string, env *proto.Envelope) {
	accepted := n.decide(handle, env)
	status := cache.MeetupDeclined
	if accepted {
		status = cache.MeetupAccepted
	}

	m := cache.Meetup{
		Direction: cache.MeetupReceived,
		PeerID:    n.peerKey(handle),
		PeerName:  env.From,
		Location:  env.Location,
		Time:      env.Time,
		Status:    cache.MeetupPending,
		CreatedAt: env.SentAt(),
	}
	if n.hooks.MeetupRequest != nil {
		n.hooks.MeetupRequest(handle, m)
	}

	if n.mesh.Send(handle, proto.NewMeetupResponse(n.self.Name, accepted)) {
		m.Status = status
	} else {
		n.log.Warn().Str("handle", handle).Msg("meetup response not delivered")
	}
	n.writer.SaveMeetup(m)
}

func (n *Node) handleMeetupResponse(handle string, env *proto.Envelope) {
	if env.Accepted == nil {
		n.log.Warn().Str("from", handle).Msg("meetup response without decision")
		return
	}
	accepted := *env.Accepted
	status := cache.MeetupDeclined
	if accepted {
		status = cache.MeetupAccepted
	}
	peerID := n.peerKey(handle)

	n.writer.Submit("meetup_response", func(ctx context.Context, s cache.Store) error {
		sent, err := s.ListMeetups(ctx, cache.MeetupFilter{
			Direction: cache.MeetupSent,
			Status:    cache.MeetupPending,
			PeerID:    peerID,
		})
		if err != nil {
			return err
		}
		if len(sent) == 0 {
			n.log.Debug().Str("from", handle).Msg("meetup response without pending request")
			return nil
		}
		// Newest first: the response answers the latest proposal.
		return s.UpdateMeetupStatus(ctx, sent[0].ID, status)
	})
	if n.hooks.MeetupResponse != nil {
		n.hooks.MeetupResponse(handle, env.From, accepted)
	}
}

func (n *Node) handleSync(handle string, env *proto.Envelope) {
	now := time.Now()
	merged := 0
	for _, p := range env.Peers {
		if p.UserID == "" || p.UserID == n.self.UserID {
			continue
		}
		if n.writer.PutPeer(cache.Peer{UserID: p.UserID, Name: p.Name, UpdatedAt: now}) {
			merged++
		}
	}
	n.log.Debug().Str("from", handle).Int("peers", merged).Msg("sync merged")
}
