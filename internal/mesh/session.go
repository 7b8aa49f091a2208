package mesh

import (
	"sync"

	"github.com/vovakirdan/campusmesh/internal/proto"
)

// session is the manager's record of one remote endpoint. All fields except
// sendMu are guarded by Manager.mu.
type session struct {
	handle string
	state  State
	role   Role
	peer   Peer
	remote *Identity

	// Local candidates wait here until our offer or answer went out.
	descSent      bool
	outCandidates []proto.Candidate

	// sendMu keeps sends to one peer in call order.
	sendMu sync.Mutex
}

func newSession(handle string) *session {
	return &session{handle: handle, state: StateIdle}
}

// apply feeds in to the state machine and reports whether it was accepted.
func (s *session) apply(in Input) bool {
	next, role, ok := Transition(s.state, s.role, in)
	if !ok {
		return false
	}
	s.state, s.role = next, role
	return true
}

func (s *session) info() SessionInfo {
	info := SessionInfo{Handle: s.handle, State: s.state, Role: s.role}
	if s.remote != nil {
		remote := *s.remote
		info.Remote = &remote
	}
	return info
}
