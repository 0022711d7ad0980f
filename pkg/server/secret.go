package server

import "github.com/google/uuid"

// NewParticipantID generates a fresh collision-resistant participant id for
// a socket upgrade, per the Admit step of the session state machine.
func NewParticipantID() string {
	return uuid.NewString()
}
