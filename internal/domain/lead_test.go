package domain

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from LeadStatus
		to   LeadStatus
		want bool
	}{
		{"new to ready", LeadStatusNew, LeadStatusReadyInvite, true},
		{"ready to invited", LeadStatusReadyInvite, LeadStatusInvited, true},
		{"invited to accepted", LeadStatusInvited, LeadStatusAccepted, true},
		{"invited to withdrawn", LeadStatusInvited, LeadStatusWithdrawn, true},
		{"accepted to ready message", LeadStatusAccepted, LeadStatusReadyMessage, true},
		{"messaged to replied", LeadStatusMessaged, LeadStatusReplied, true},
		{"withdrawn back to ready", LeadStatusWithdrawn, LeadStatusReadyInvite, true},
		{"review back to ready", LeadStatusReviewRequired, LeadStatusReadyInvite, true},

		{"new skips to accepted", LeadStatusNew, LeadStatusAccepted, false},
		{"invited back to new", LeadStatusInvited, LeadStatusNew, false},
		{"replied to messaged", LeadStatusReplied, LeadStatusMessaged, false},
		{"same status", LeadStatusInvited, LeadStatusInvited, false},

		{"blocked reachable from live state", LeadStatusMessaged, LeadStatusBlocked, true},
		{"blocked only exits to dead", LeadStatusBlocked, LeadStatusDead, true},
		{"blocked cannot revive", LeadStatusBlocked, LeadStatusReadyInvite, false},
		{"dead is terminal", LeadStatusDead, LeadStatusBlocked, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}
