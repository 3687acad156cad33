package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"liveclass/pkg/types"
)

// MaxFrameSize caps a single inbound frame, matching the websocket read limit
const MaxFrameSize = 64 * 1024

// MaxChatLength caps the text of one chat message in runes
const MaxChatLength = 2000

// Kind identifies an inbound message type. Its value is the wire event name.
type Kind string

const (
	KindJoin             Kind = "join"
	KindSignal           Kind = "signal"
	KindRaiseHand        Kind = "raise-hand"
	KindLowerHand        Kind = "lower-hand"
	KindSendMessage      Kind = "send-message"
	KindStartScreenShare Kind = "start-screen-share"
	KindStopScreenShare  Kind = "stop-screen-share"
	KindToggleVideo      Kind = "toggle-video"
	KindToggleAudio      Kind = "toggle-audio"
	KindSpeakingLevel    Kind = "speaking-level"
	KindSpeakingStopped  Kind = "speaking-stopped"
	KindInstructorAction Kind = "instructor-action"
	KindLeave            Kind = "leave"
)

// Envelope is the frame shape shared by both directions
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every client to server message.
// The set is closed: only types in this package satisfy it.
type Inbound interface {
	Kind() Kind
	validate() error
}

// RoomScoped is implemented by inbound messages that name a room
type RoomScoped interface {
	Inbound
	Room() string
}

// RoomRef carries the roomId field most messages share
type RoomRef struct {
	RoomID string `json:"roomId"`
}

// Room returns the referenced room id
func (r RoomRef) Room() string { return r.RoomID }

func (r RoomRef) validateRoom() error {
	if strings.TrimSpace(r.RoomID) == "" {
		return fmt.Errorf("%w: roomId", ErrMissingField)
	}
	if !types.IsValidRoomID(r.RoomID) {
		return fmt.Errorf("%w: invalid roomId", ErrMalformed)
	}
	return nil
}

type Join struct {
	RoomRef
	ClassID string     `json:"classId,omitempty"`
	User    types.User `json:"user"`
}

func (Join) Kind() Kind        { return KindJoin }
func (m Join) validate() error { return m.validateRoom() }

// Signal is relayed without inspecting Signal. Target addresses a connection
// directly; RoomID with TargetUserID addresses a user's current connection.
type Signal struct {
	Target       string          `json:"target,omitempty"`
	RoomID       string          `json:"roomId,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Signal       json.RawMessage `json:"signal"`
}

func (Signal) Kind() Kind { return KindSignal }

func (m Signal) validate() error {
	if len(m.Signal) == 0 || bytes.Equal(bytes.TrimSpace(m.Signal), []byte("null")) {
		return fmt.Errorf("%w: signal", ErrMissingField)
	}
	if m.Target != "" {
		return nil
	}
	if m.TargetUserID == "" {
		return fmt.Errorf("%w: target or targetUserId", ErrMissingField)
	}
	if m.RoomID == "" {
		return fmt.Errorf("%w: roomId", ErrMissingField)
	}
	return nil
}

// ByUser reports whether the signal is addressed by user id
func (m Signal) ByUser() bool {
	return m.Target == "" && m.TargetUserID != ""
}

type RaiseHand struct{ RoomRef }

func (RaiseHand) Kind() Kind        { return KindRaiseHand }
func (m RaiseHand) validate() error { return m.validateRoom() }

type LowerHand struct{ RoomRef }

func (LowerHand) Kind() Kind        { return KindLowerHand }
func (m LowerHand) validate() error { return m.validateRoom() }

type SendMessage struct {
	RoomRef
	Message string `json:"message"`
}

func (SendMessage) Kind() Kind { return KindSendMessage }

func (m SendMessage) validate() error {
	if err := m.validateRoom(); err != nil {
		return err
	}
	if strings.TrimSpace(m.Message) == "" {
		return fmt.Errorf("%w: message", ErrMissingField)
	}
	if utf8.RuneCountInString(m.Message) > MaxChatLength {
		return ErrMessageTooLong
	}
	return nil
}

type StartScreenShare struct{ RoomRef }

func (StartScreenShare) Kind() Kind        { return KindStartScreenShare }
func (m StartScreenShare) validate() error { return m.validateRoom() }

type StopScreenShare struct{ RoomRef }

func (StopScreenShare) Kind() Kind        { return KindStopScreenShare }
func (m StopScreenShare) validate() error { return m.validateRoom() }

type ToggleVideo struct {
	RoomRef
	CamOn *bool `json:"camOn"`
}

func (ToggleVideo) Kind() Kind { return KindToggleVideo }

func (m ToggleVideo) validate() error {
	if err := m.validateRoom(); err != nil {
		return err
	}
	if m.CamOn == nil {
		return fmt.Errorf("%w: camOn", ErrMissingField)
	}
	return nil
}

type ToggleAudio struct {
	RoomRef
	MicOn *bool `json:"micOn"`
}

func (ToggleAudio) Kind() Kind { return KindToggleAudio }

func (m ToggleAudio) validate() error {
	if err := m.validateRoom(); err != nil {
		return err
	}
	if m.MicOn == nil {
		return fmt.Errorf("%w: micOn", ErrMissingField)
	}
	return nil
}

type SpeakingLevel struct {
	RoomRef
	Level float64 `json:"level"`
}

func (SpeakingLevel) Kind() Kind { return KindSpeakingLevel }

func (m SpeakingLevel) validate() error {
	if err := m.validateRoom(); err != nil {
		return err
	}
	if m.Level < 0 {
		return fmt.Errorf("%w: negative level", ErrMalformed)
	}
	return nil
}

type SpeakingStopped struct{ RoomRef }

func (SpeakingStopped) Kind() Kind        { return KindSpeakingStopped }
func (m SpeakingStopped) validate() error { return m.validateRoom() }

type InstructorAction struct {
	RoomRef
	Action       string `json:"action"`
	TargetUserID string `json:"targetUserId"`
}

func (InstructorAction) Kind() Kind { return KindInstructorAction }

func (m InstructorAction) validate() error {
	if err := m.validateRoom(); err != nil {
		return err
	}
	if m.Action == "" {
		return fmt.Errorf("%w: action", ErrMissingField)
	}
	if m.TargetUserID == "" {
		return fmt.Errorf("%w: targetUserId", ErrMissingField)
	}
	return nil
}

type Leave struct{ RoomRef }

func (Leave) Kind() Kind        { return KindLeave }
func (m Leave) validate() error { return m.validateRoom() }

// decoders maps each kind to a function decoding its payload
var decoders = map[Kind]func(json.RawMessage) (Inbound, error){
	KindJoin:             decodeInto[Join],
	KindSignal:           decodeInto[Signal],
	KindRaiseHand:        decodeInto[RaiseHand],
	KindLowerHand:        decodeInto[LowerHand],
	KindSendMessage:      decodeInto[SendMessage],
	KindStartScreenShare: decodeInto[StartScreenShare],
	KindStopScreenShare:  decodeInto[StopScreenShare],
	KindToggleVideo:      decodeInto[ToggleVideo],
	KindToggleAudio:      decodeInto[ToggleAudio],
	KindSpeakingLevel:    decodeInto[SpeakingLevel],
	KindSpeakingStopped:  decodeInto[SpeakingStopped],
	KindInstructorAction: decodeInto[InstructorAction],
	KindLeave:            decodeInto[Leave],
}

func decodeInto[T Inbound](data json.RawMessage) (Inbound, error) {
	var msg T
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// Kinds lists every inbound kind the protocol knows about
func Kinds() []Kind {
	return []Kind{
		KindJoin, KindSignal, KindRaiseHand, KindLowerHand, KindSendMessage,
		KindStartScreenShare, KindStopScreenShare, KindToggleVideo, KindToggleAudio,
		KindSpeakingLevel, KindSpeakingStopped, KindInstructorAction, KindLeave,
	}
}

// Decode parses one frame into its typed inbound message
func Decode(frame []byte) (Inbound, error) {
	if len(frame) > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame too large", ErrMalformed)
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: event", ErrMissingField)
	}
	decode, ok := decoders[Kind(env.Event)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	return decode(env.Data)
}
