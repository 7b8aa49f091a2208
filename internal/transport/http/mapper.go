package http

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/campusmesh/internal/core"
	"github.com/vovakirdan/campusmesh/internal/proto"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeRegister:
		var reg proto.RegisterData
		if err := json.Unmarshal(inbound.Data, &reg); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "invalid register payload"}
		}
		if reg.Protocol != 0 && reg.Protocol != proto.ProtocolVersion {
			return nil, &proto.Error{
				Code: core.ErrCodeBadRequest,
				Msg:  fmt.Sprintf("unsupported protocol version %d", reg.Protocol),
			}
		}
		return &core.Command{
			Kind:     core.CommandRegister,
			Identity: core.Identity{UserID: reg.UserID, Name: reg.Name},
			Token:    reg.Token,
		}, nil
	case proto.InboundTypeOffer, proto.InboundTypeAnswer, proto.InboundTypeCandidate:
		var sig proto.SignalData
		if err := json.Unmarshal(inbound.Data, &sig); err != nil {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "invalid signal payload"}
		}
		if sig.TargetHandle == "" {
			return nil, &proto.Error{Code: core.ErrCodeBadRequest, Msg: "targetHandle is required"}
		}
		kind := core.SignalKind(inbound.Type)
		return &core.Command{
			Kind: core.CommandSignal,
			Signal: core.Signal{
				Kind:    kind,
				Peer:    sig.TargetHandle,
				Payload: signalPayload(kind, sig),
			},
		}, nil
	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidMessage, Msg: "unknown message type"}
	}
}

// signalPayload picks the field named after the message kind; the relay does
// not validate its contents.
func signalPayload(kind core.SignalKind, sig proto.SignalData) json.RawMessage {
	switch kind {
	case core.SignalOffer:
		return sig.Offer
	case core.SignalAnswer:
		return sig.Answer
	default:
		return sig.Candidate
	}
}

func outboundFromEvent(event *core.Event) (proto.Outbound, error) {
	switch event.Kind {
	case core.EventRegistered:
		return eventOutbound(proto.EventRegistered, proto.Registered{EndpointHandle: event.Handle})
	case core.EventSnapshot:
		return eventOutbound(proto.EventSnapshot, presenceList(event.Snapshot))
	case core.EventPeerJoined:
		return eventOutbound(proto.EventPeerJoined, presenceFromRecord(*event.Presence))
	case core.EventPeerLeft:
		return eventOutbound(proto.EventPeerLeft, event.Handle)
	case core.EventSignal:
		sig := event.Signal
		out := proto.SignalEvent{FromHandle: sig.Peer}
		switch sig.Kind {
		case core.SignalOffer:
			out.Offer = sig.Payload
		case core.SignalAnswer:
			out.Answer = sig.Payload
		case core.SignalCandidate:
			out.Candidate = sig.Payload
		}
		return eventOutbound(string(sig.Kind), out)
	case core.EventError:
		return proto.Outbound{
			Type: proto.OutboundTypeError,
			Error: &proto.Error{
				Code: event.Error.Code,
				Msg:  event.Error.Message,
			},
		}, nil
	default:
		return proto.Outbound{}, fmt.Errorf("unknown event kind %v", event.Kind)
	}
}

func eventOutbound(name string, data any) (proto.Outbound, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return proto.Outbound{}, fmt.Errorf("marshal %s: %w", name, err)
	}
	return proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: raw}, nil
}

func presenceFromRecord(rec core.PresenceRecord) proto.Presence {
	return proto.Presence{
		EndpointHandle: rec.Handle,
		UserID:         rec.UserID,
		Name:           rec.Name,
	}
}

func presenceList(records []core.PresenceRecord) []proto.Presence {
	out := make([]proto.Presence, 0, len(records))
	for _, rec := range records {
		out = append(out, presenceFromRecord(rec))
	}
	return out
}
