package room

import (
	"sort"
	"time"
)

// Room is a live-session container keyed by an external room id.
// All access goes through Registry, which holds the lock.
type Room struct {
	id                     string
	classID                string
	participants           map[string]*Participant // userID -> Participant
	connectionIndex        map[string]string       // connectionID -> userID
	instructorConnectionID string
	chat                   *chatLog
	createdAt              time.Time
	lastActivityAt         time.Time
}

func newRoom(id string, chatLimit int, now time.Time) *Room {
	return &Room{
		id:              id,
		participants:    make(map[string]*Participant),
		connectionIndex: make(map[string]string),
		chat:            newChatLog(chatLimit),
		createdAt:       now,
		lastActivityAt:  now,
	}
}

func (r *Room) touch(now time.Time) {
	r.lastActivityAt = now
}

func (r *Room) byConnection(connectionID string) (*Participant, bool) {
	userID, ok := r.connectionIndex[connectionID]
	if !ok {
		return nil, false
	}
	p, ok := r.participants[userID]
	return p, ok
}

// sortedParticipants returns copies ordered by join time so rosters are stable
func (r *Room) sortedParticipants(excludingUserID string) []Participant {
	out := make([]Participant, 0, len(r.participants))
	for userID, p := range r.participants {
		if userID == excludingUserID {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Snapshot is a point-in-time copy of a room safe to hand to other goroutines
type Snapshot struct {
	ID                     string        `json:"roomId"`
	ClassID                string        `json:"classId,omitempty"`
	InstructorConnectionID string        `json:"instructorSocketId,omitempty"`
	Participants           []Participant `json:"participants"`
	ChatHistory            []ChatMessage `json:"chatHistory"`
	CreatedAt              time.Time     `json:"createdAt"`
	LastActivityAt         time.Time     `json:"lastActivityAt"`
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		ID:                     r.id,
		ClassID:                r.classID,
		InstructorConnectionID: r.instructorConnectionID,
		Participants:           r.sortedParticipants(""),
		ChatHistory:            r.chat.snapshot(),
		CreatedAt:              r.createdAt,
		LastActivityAt:         r.lastActivityAt,
	}
}

// Summary is the lightweight listing used by the HTTP API
type Summary struct {
	ID               string    `json:"roomId"`
	ClassID          string    `json:"classId,omitempty"`
	ParticipantCount int       `json:"participantCount"`
	HasInstructor    bool      `json:"hasInstructor"`
	ChatMessages     int       `json:"chatMessages"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
}

func (r *Room) summary() Summary {
	return Summary{
		ID:               r.id,
		ClassID:          r.classID,
		ParticipantCount: len(r.participants),
		HasInstructor:    r.instructorConnectionID != "",
		ChatMessages:     r.chat.len(),
		LastActivityAt:   r.lastActivityAt,
	}
}
