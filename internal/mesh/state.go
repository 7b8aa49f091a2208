package mesh

// State is the lifecycle of one session with a remote endpoint.
type State int

const (
	StateIdle State = iota
	StateNegotiating
	StateChannelPending
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateChannelPending:
		return "channel-pending"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Role tells which side started the negotiation.
type Role int

const (
	RoleNone Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "none"
	}
}

// Input is anything that can move a session between states.
type Input int

const (
	InputConnect Input = iota
	InputOffer
	InputAnswerSent
	InputAnswer
	InputCandidate
	InputChannelOpen
	InputChannelClose
	InputFailed
	InputCancel
)

func (in Input) String() string {
	switch in {
	case InputConnect:
		return "connect"
	case InputOffer:
		return "offer"
	case InputAnswerSent:
		return "answer-sent"
	case InputAnswer:
		return "answer"
	case InputCandidate:
		return "candidate"
	case InputChannelOpen:
		return "channel-open"
	case InputChannelClose:
		return "channel-close"
	case InputFailed:
		return "failed"
	case InputCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Transition computes the next state for input. ok is false when the input
// does not apply in the current state; the caller drops it and the state is
// returned unchanged.
func Transition(state State, role Role, in Input) (next State, nextRole Role, ok bool) {
	if state == StateClosed {
		return state, role, false
	}

	switch in {
	case InputConnect:
		if state == StateIdle {
			return StateNegotiating, RoleInitiator, true
		}
	case InputOffer:
		if state == StateIdle {
			return StateNegotiating, RoleResponder, true
		}
	case InputAnswerSent:
		if state == StateNegotiating && role == RoleResponder {
			return StateChannelPending, role, true
		}
	case InputAnswer:
		if state == StateNegotiating && role == RoleInitiator {
			return StateChannelPending, role, true
		}
	case InputCandidate:
		if state != StateIdle {
			return state, role, true
		}
	case InputChannelOpen:
		// A responder's channel can open before its answer is marked sent.
		if state == StateChannelPending || (state == StateNegotiating && role == RoleResponder) {
			return StateEstablished, role, true
		}
	case InputChannelClose, InputFailed, InputCancel:
		return StateClosed, role, true
	}
	return state, role, false
}
