package mesh

import "testing"

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		role     Role
		in       Input
		want     State
		wantRole Role
		ok       bool
	}{
		{"connect from idle", StateIdle, RoleNone, InputConnect, StateNegotiating, RoleInitiator, true},
		{"offer from idle", StateIdle, RoleNone, InputOffer, StateNegotiating, RoleResponder, true},
		{"answer completes initiator", StateNegotiating, RoleInitiator, InputAnswer, StateChannelPending, RoleInitiator, true},
		{"answer ignored by responder", StateNegotiating, RoleResponder, InputAnswer, StateNegotiating, RoleResponder, false},
		{"late answer when established", StateEstablished, RoleInitiator, InputAnswer, StateEstablished, RoleInitiator, false},
		{"answer sent by responder", StateNegotiating, RoleResponder, InputAnswerSent, StateChannelPending, RoleResponder, true},
		{"candidate while negotiating", StateNegotiating, RoleInitiator, InputCandidate, StateNegotiating, RoleInitiator, true},
		{"candidate while established", StateEstablished, RoleResponder, InputCandidate, StateEstablished, RoleResponder, true},
		{"candidate after close", StateClosed, RoleInitiator, InputCandidate, StateClosed, RoleInitiator, false},
		{"channel open", StateChannelPending, RoleInitiator, InputChannelOpen, StateEstablished, RoleInitiator, true},
		{"channel open early for responder", StateNegotiating, RoleResponder, InputChannelOpen, StateEstablished, RoleResponder, true},
		{"channel open too early for initiator", StateNegotiating, RoleInitiator, InputChannelOpen, StateNegotiating, RoleInitiator, false},
		{"cancel mid negotiation", StateNegotiating, RoleInitiator, InputCancel, StateClosed, RoleInitiator, true},
		{"failure when pending", StateChannelPending, RoleResponder, InputFailed, StateClosed, RoleResponder, true},
		{"channel close when established", StateEstablished, RoleInitiator, InputChannelClose, StateClosed, RoleInitiator, true},
		{"closed is terminal", StateClosed, RoleInitiator, InputConnect, StateClosed, RoleInitiator, false},
		{"second connect rejected", StateNegotiating, RoleInitiator, InputConnect, StateNegotiating, RoleInitiator, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, role, ok := Transition(tt.state, tt.role, tt.in)
			if got != tt.want || role != tt.wantRole || ok != tt.ok {
				t.Fatalf("Transition(%s, %s, %s) = (%s, %s, %v), want (%s, %s, %v)",
					tt.state, tt.role, tt.in, got, role, ok, tt.want, tt.wantRole, tt.ok)
			}
		})
	}
}
