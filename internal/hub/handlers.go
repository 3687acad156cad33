package hub

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"liveclass/internal/idgen"
	"liveclass/internal/moderation"
	"liveclass/internal/protocol"
	"liveclass/internal/room"
	"liveclass/internal/signaling"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

type handlerFunc func(ctx context.Context, conn interfaces.Connection, msg protocol.Inbound)

// on adapts a typed handler to the table signature
func on[T protocol.Inbound](fn func(context.Context, interfaces.Connection, T)) handlerFunc {
	return func(ctx context.Context, conn interfaces.Connection, msg protocol.Inbound) {
		fn(ctx, conn, msg.(T))
	}
}

func (h *Hub) buildHandlers() map[protocol.Kind]handlerFunc {
	return map[protocol.Kind]handlerFunc{
		protocol.KindJoin:             on(h.handleJoin),
		protocol.KindSignal:           on(h.handleSignal),
		protocol.KindRaiseHand:        on(h.handleRaiseHand),
		protocol.KindLowerHand:        on(h.handleLowerHand),
		protocol.KindSendMessage:      on(h.handleSendMessage),
		protocol.KindStartScreenShare: on(h.handleStartScreenShare),
		protocol.KindStopScreenShare:  on(h.handleStopScreenShare),
		protocol.KindToggleVideo:      on(h.handleToggleVideo),
		protocol.KindToggleAudio:      on(h.handleToggleAudio),
		protocol.KindSpeakingLevel:    on(h.handleSpeakingLevel),
		protocol.KindSpeakingStopped:  on(h.handleSpeakingStopped),
		protocol.KindInstructorAction: on(h.handleInstructorAction),
		protocol.KindLeave:            on(h.handleLeave),
	}
}

// Handle runs the handler for msg synchronously. A panicking handler is
// contained here and the sender gets a generic error.
func (h *Hub) Handle(ctx context.Context, conn interfaces.Connection, msg protocol.Inbound) {
	if msg == nil {
		h.sendError(conn, "malformed message")
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().
				Interface("panic", r).
				Str("event", string(msg.Kind())).
				Str("socketId", conn.ID()).
				Bytes("stack", debug.Stack()).
				Msg("handler panicked")
			h.sendError(conn, "internal error")
		}
	}()

	handler, ok := h.handlers[msg.Kind()]
	if !ok {
		h.sendError(conn, fmt.Sprintf("unsupported event %q", msg.Kind()))
		return
	}
	handler(ctx, conn, msg)
}

// member resolves conn's participant in roomID or tells the sender why not
func (h *Hub) member(conn interfaces.Connection, roomID string) (room.Participant, bool) {
	p, ok := h.rooms.ResolveByConnection(roomID, conn.ID())
	if !ok {
		h.sendError(conn, fmt.Sprintf("not a participant of room %s", roomID))
	}
	return p, ok
}

// update mutates conn's participant in roomID, reporting failures to the sender
func (h *Hub) update(conn interfaces.Connection, roomID string, fn func(*room.Participant)) (room.Participant, bool) {
	p, err := h.rooms.UpdateByConnection(roomID, conn.ID(), fn)
	if err != nil {
		h.sendError(conn, fmt.Sprintf("not a participant of room %s", roomID))
		return room.Participant{}, false
	}
	return p, true
}

func (h *Hub) handleJoin(ctx context.Context, conn interfaces.Connection, m protocol.Join) {
	identity := conn.Identity().Merge(m.User)

	class, err := h.lookupClass(ctx, m.RoomID, m.ClassID)
	if err != nil {
		h.logger.Warn().Err(err).
			Str("roomId", m.RoomID).
			Str("classId", m.ClassID).
			Str("userId", identity.ID).
			Msg("join rejected")
		h.sendError(conn, err.Error())
		return
	}

	res := h.rooms.Join(m.RoomID, m.ClassID, conn.ID(), identity)
	h.addHint(conn.ID(), m.RoomID)

	if res.PreviousConnectionID != "" {
		h.removeHint(res.PreviousConnectionID, m.RoomID)
		h.Broadcast(m.RoomID, protocol.NewMessage(protocol.EventPeerLeft, protocol.PeerLeft{
			PeerID: res.PreviousConnectionID,
			UserID: identity.ID,
		}), conn.ID())
	}

	h.SendTo(conn.ID(), protocol.NewMessage(protocol.EventClassJoined, protocol.ClassJoined{
		RoomID:       res.RoomID,
		ClassID:      res.ClassID,
		SocketID:     conn.ID(),
		Participants: h.rooms.ListOthers(m.RoomID, identity.ID),
		ChatHistory:  h.rooms.ChatHistory(m.RoomID),
		IsInstructor: res.Participant.IsInstructor,
		IceServers:   h.cfg.ICEServers,
		Class:        class,
	}))

	// a repeated join on the same connection changes nothing peers can see
	if !res.IsRejoin || res.PreviousConnectionID != "" {
		h.Broadcast(m.RoomID, protocol.NewMessage(protocol.EventParticipantJoined,
			protocol.ParticipantJoinedFrom(res.Participant)), conn.ID())
	}

	h.logger.Info().
		Str("roomId", m.RoomID).
		Str("userId", identity.ID).
		Str("socketId", conn.ID()).
		Bool("rejoin", res.IsRejoin).
		Str("previous_socket", res.PreviousConnectionID).
		Bool("instructor", res.Participant.IsInstructor).
		Msg("participant joined")
}

// lookupClass validates classID against the catalog when one is configured
func (h *Hub) lookupClass(ctx context.Context, roomID, classID string) (*types.Class, error) {
	if h.catalog == nil || classID == "" {
		return nil, nil
	}
	class, err := h.catalog.GetClass(ctx, classID)
	if errors.Is(err, interfaces.ErrClassNotFound) {
		return nil, fmt.Errorf("class %s not found", classID)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("classId", classID).Msg("class lookup failed")
		return nil, errors.New("class lookup failed")
	}
	if class.Status != types.ClassStatusActive {
		return nil, fmt.Errorf("class %s is not active", classID)
	}
	if class.RoomID != roomID {
		return nil, fmt.Errorf("class %s does not belong to room %s", classID, roomID)
	}
	return class, nil
}

func (h *Hub) handleSignal(_ context.Context, conn interfaces.Connection, m protocol.Signal) {
	if !m.ByUser() {
		h.relay.ToConnection(conn, m.Target, m.Signal)
		return
	}

	err := h.relay.ToUser(conn, m.RoomID, m.TargetUserID, m.Signal)
	switch {
	case err == nil:
	case errors.Is(err, signaling.ErrTargetNotFound):
		h.sendError(conn, fmt.Sprintf("signal target %s not found in room %s", m.TargetUserID, m.RoomID))
	case errors.Is(err, signaling.ErrSenderNotInRoom):
		h.sendError(conn, fmt.Sprintf("not a participant of room %s", m.RoomID))
	default:
		h.sendError(conn, err.Error())
	}
}

func (h *Hub) handleRaiseHand(_ context.Context, conn interfaces.Connection, m protocol.RaiseHand) {
	h.setHand(conn, m.RoomID, true)
}

func (h *Hub) handleLowerHand(_ context.Context, conn interfaces.Connection, m protocol.LowerHand) {
	h.setHand(conn, m.RoomID, false)
}

func (h *Hub) setHand(conn interfaces.Connection, roomID string, raised bool) {
	p, ok := h.update(conn, roomID, func(p *room.Participant) { p.IsHandRaised = raised })
	if !ok {
		return
	}
	name := protocol.EventHandLowered
	if raised {
		name = protocol.EventHandRaised
	}
	h.Broadcast(roomID, protocol.NewMessage(name, protocol.HandChanged{
		UserID: p.UserID,
		User:   p.Profile,
	}), "")
}

func (h *Hub) handleSendMessage(_ context.Context, conn interfaces.Connection, m protocol.SendMessage) {
	p, ok := h.member(conn, m.RoomID)
	if !ok {
		return
	}
	if !h.limiter.Allow(p.UserID) {
		h.logger.Warn().Str("userId", p.UserID).Str("roomId", m.RoomID).Msg("chat rate limit exceeded")
		h.sendError(conn, "rate limit exceeded")
		return
	}

	msg := room.ChatMessage{
		ID:        idgen.NewMessageID(),
		Message:   m.Message,
		From:      p.Profile.Merge(conn.Identity()),
		Timestamp: h.now().UTC(),
		Type:      room.ChatMessageTypeText,
	}
	if err := h.rooms.AppendChat(m.RoomID, msg); err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.Broadcast(m.RoomID, protocol.NewMessage(protocol.EventChatMessage, msg), "")
}

func (h *Hub) handleStartScreenShare(_ context.Context, conn interfaces.Connection, m protocol.StartScreenShare) {
	h.setScreenShare(conn, m.RoomID, true)
}

func (h *Hub) handleStopScreenShare(_ context.Context, conn interfaces.Connection, m protocol.StopScreenShare) {
	h.setScreenShare(conn, m.RoomID, false)
}

func (h *Hub) setScreenShare(conn interfaces.Connection, roomID string, sharing bool) {
	p, ok := h.update(conn, roomID, func(p *room.Participant) { p.IsScreenSharing = sharing })
	if !ok {
		return
	}
	name := protocol.EventScreenShareStopped
	if sharing {
		name = protocol.EventScreenShareStarted
	}
	h.Broadcast(roomID, protocol.NewMessage(name, protocol.ScreenShareChanged{
		UserID:   p.UserID,
		SocketID: p.ConnectionID,
		User:     p.Profile,
	}), conn.ID())
}

func (h *Hub) handleToggleVideo(_ context.Context, conn interfaces.Connection, m protocol.ToggleVideo) {
	camOn := *m.CamOn
	p, ok := h.update(conn, m.RoomID, func(p *room.Participant) { p.IsVideoEnabled = camOn })
	if !ok {
		return
	}
	h.Broadcast(m.RoomID, protocol.NewMessage(protocol.EventParticipantVideoToggled, protocol.VideoToggled{
		UserID: p.UserID,
		CamOn:  camOn,
	}), conn.ID())
}

func (h *Hub) handleToggleAudio(_ context.Context, conn interfaces.Connection, m protocol.ToggleAudio) {
	micOn := *m.MicOn
	p, ok := h.update(conn, m.RoomID, func(p *room.Participant) { p.IsAudioEnabled = micOn })
	if !ok {
		return
	}
	h.Broadcast(m.RoomID, protocol.NewMessage(protocol.EventParticipantAudioToggled, protocol.AudioToggled{
		UserID: p.UserID,
		MicOn:  micOn,
	}), conn.ID())
}

func (h *Hub) handleSpeakingLevel(_ context.Context, conn interfaces.Connection, m protocol.SpeakingLevel) {
	p, ok := h.member(conn, m.RoomID)
	if !ok {
		return
	}
	h.Broadcast(m.RoomID, protocol.NewMessage(protocol.EventParticipantSpeakingLevel, protocol.SpeakingLevelChanged{
		UserID:   p.UserID,
		SocketID: p.ConnectionID,
		Level:    m.Level,
	}), conn.ID())
}

func (h *Hub) handleSpeakingStopped(_ context.Context, conn interfaces.Connection, m protocol.SpeakingStopped) {
	p, ok := h.member(conn, m.RoomID)
	if !ok {
		return
	}
	h.Broadcast(m.RoomID, protocol.NewMessage(protocol.EventParticipantSpeaking, protocol.SpeakingChanged{
		UserID:   p.UserID,
		SocketID: p.ConnectionID,
		Speaking: false,
	}), conn.ID())
}

func (h *Hub) handleInstructorAction(_ context.Context, conn interfaces.Connection, m protocol.InstructorAction) {
	h.moderation.Perform(m.RoomID, conn.ID(), moderation.Action(m.Action), m.TargetUserID)
}

// handleLeave is silent when conn is not in the room
func (h *Hub) handleLeave(_ context.Context, conn interfaces.Connection, m protocol.Leave) {
	h.cleanup(m.RoomID, conn.ID(), ReasonLeft)
}
