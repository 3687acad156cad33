package protocol

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"liveclass/internal/room"
	"liveclass/pkg/types"
)

// Outbound event names
const (
	EventClassJoined               = "class-joined"
	EventParticipantJoined         = "participant-joined"
	EventParticipantLeft           = "participant-left"
	EventPeerLeft                  = "peer-left"
	EventSignal                    = "signal"
	EventHandRaised                = "hand-raised"
	EventHandLowered               = "hand-lowered"
	EventChatMessage               = "chat-message"
	EventScreenShareStarted        = "screen-share-started"
	EventScreenShareStopped        = "screen-share-stopped"
	EventParticipantVideoToggled   = "participant-video-toggled"
	EventParticipantAudioToggled   = "participant-audio-toggled"
	EventParticipantSpeakingLevel  = "participant-speaking-level"
	EventParticipantSpeaking       = "participant-speaking"
	EventInstructorActionReceived  = "instructor-action-received"
	EventInstructorActionPerformed = "instructor-action-performed"
	EventError                     = "error"
)

// Message is one server to client frame
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewMessage pairs an event name with its payload
func NewMessage(event string, data interface{}) Message {
	return Message{Event: event, Data: data}
}

// ErrorMessage builds an error event
func ErrorMessage(text string) Message {
	return NewMessage(EventError, Error{Message: text})
}

type ClassJoined struct {
	RoomID       string             `json:"roomId"`
	ClassID      string             `json:"classId,omitempty"`
	SocketID     string             `json:"socketId"`
	Participants []room.Participant `json:"participants"`
	ChatHistory  []room.ChatMessage `json:"chatHistory"`
	IsInstructor bool               `json:"isInstructor"`
	IceServers   []webrtc.ICEServer `json:"iceServers,omitempty"`
	Class        *types.Class       `json:"class,omitempty"`
}

type ParticipantJoined struct {
	UserID         string     `json:"userId"`
	SocketID       string     `json:"socketId"`
	User           types.User `json:"user"`
	IsInstructor   bool       `json:"isInstructor"`
	IsAudioEnabled bool       `json:"isAudioEnabled"`
	IsVideoEnabled bool       `json:"isVideoEnabled"`
}

// ParticipantJoinedFrom projects a room participant onto the wire payload
func ParticipantJoinedFrom(p room.Participant) ParticipantJoined {
	return ParticipantJoined{
		UserID:         p.UserID,
		SocketID:       p.ConnectionID,
		User:           p.Profile,
		IsInstructor:   p.IsInstructor,
		IsAudioEnabled: p.IsAudioEnabled,
		IsVideoEnabled: p.IsVideoEnabled,
	}
}

type ParticipantLeft struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
}

// PeerLeft tells peers to tear down their link to PeerID
type PeerLeft struct {
	PeerID string `json:"peerId"`
	UserID string `json:"userId"`
}

type SignalRelay struct {
	From       string          `json:"from"`
	FromUserID string          `json:"fromUserId,omitempty"`
	Signal     json.RawMessage `json:"signal"`
}

type HandChanged struct {
	UserID string     `json:"userId"`
	User   types.User `json:"user"`
}

type ScreenShareChanged struct {
	UserID   string     `json:"userId"`
	SocketID string     `json:"socketId"`
	User     types.User `json:"user"`
}

type VideoToggled struct {
	UserID string `json:"userId"`
	CamOn  bool   `json:"camOn"`
}

type AudioToggled struct {
	UserID string `json:"userId"`
	MicOn  bool   `json:"micOn"`
}

type SpeakingLevelChanged struct {
	UserID   string  `json:"userId"`
	SocketID string  `json:"socketId"`
	Level    float64 `json:"level"`
}

type SpeakingChanged struct {
	UserID   string `json:"userId"`
	SocketID string `json:"socketId"`
	Speaking bool   `json:"speaking"`
}

type InstructorActionReceived struct {
	Action         string `json:"action"`
	InstructorName string `json:"instructorName"`
	InstructorID   string `json:"instructorId"`
}

type InstructorActionPerformed struct {
	Action       string `json:"action"`
	TargetUserID string `json:"targetUserId"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}
