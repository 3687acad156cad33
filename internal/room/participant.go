package room

import (
	"time"

	"liveclass/pkg/types"
)

// Participant is a room-scoped membership record for one user.
// It survives reconnects: only ConnectionID changes.
type Participant struct {
	UserID          string     `json:"userId"`
	ConnectionID    string     `json:"socketId"`
	Profile         types.User `json:"user"`
	JoinedAt        time.Time  `json:"joinedAt"`
	IsInstructor    bool       `json:"isInstructor"`
	IsAudioEnabled  bool       `json:"isAudioEnabled"`
	IsVideoEnabled  bool       `json:"isVideoEnabled"`
	IsHandRaised    bool       `json:"isHandRaised"`
	IsScreenSharing bool       `json:"isScreenSharing"`
}

func newParticipant(connectionID string, identity types.User, now time.Time) *Participant {
	return &Participant{
		UserID:         identity.ID,
		ConnectionID:   connectionID,
		Profile:        identity,
		JoinedAt:       now,
		IsAudioEnabled: true,
		IsVideoEnabled: true,
	}
}

// JoinResult describes what Join did to the room
type JoinResult struct {
	RoomID      string
	ClassID     string
	Participant Participant
	// IsRejoin is set when the user already had an entry and only the
	// connection was swapped
	IsRejoin             bool
	PreviousConnectionID string
	RoomCreated          bool
}

// Departure is returned by Leave for the participant that was removed
type Departure struct {
	RoomID        string
	UserID        string
	ConnectionID  string
	Profile       types.User
	WasInstructor bool
	RoomEmpty     bool
}
