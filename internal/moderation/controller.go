package moderation

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"liveclass/internal/protocol"
	"liveclass/internal/room"
)

// DefaultEvictDelay is how long a disconnected participant keeps its socket
// so the notice can reach the client first
const DefaultEvictDelay = time.Second

// Action is an instructor moderation verb
type Action string

const (
	ActionMute            Action = "mute"
	ActionUnmute          Action = "unmute"
	ActionDisableVideo    Action = "disable-video"
	ActionEnableVideo     Action = "enable-video"
	ActionStopScreenShare Action = "stop-screen-share"
	ActionDisconnect      Action = "disconnect"
)

// Advisory actions are only forwarded to the target's client
func (a Action) Advisory() bool {
	switch a {
	case ActionMute, ActionUnmute, ActionDisableVideo, ActionEnableVideo:
		return true
	}
	return false
}

// Store is the part of the room store moderation needs
type Store interface {
	ResolveByConnection(roomID, connectionID string) (room.Participant, bool)
	ResolveByUser(roomID, userID string) (room.Participant, bool)
	Update(roomID, userID string, fn func(*room.Participant)) (room.Participant, error)
}

// Effects delivers moderation side effects. The dispatcher implements it.
type Effects interface {
	SendTo(connectionID string, msg protocol.Message) bool
	Broadcast(roomID string, msg protocol.Message, exceptConnectionID string)
	// Evict runs the shared leave cleanup for connectionID in roomID
	Evict(roomID, connectionID string)
	CloseConnection(connectionID string)
}

// Result describes the outcome reported to the requester
type Result struct {
	Action       Action
	TargetUserID string
	Success      bool
	Err          error
}

type Controller struct {
	logger     zerolog.Logger
	rooms      Store
	effects    Effects
	scheduler  *Scheduler
	evictDelay time.Duration
}

func NewController(rooms Store, effects Effects, scheduler *Scheduler, evictDelay time.Duration, logger *zerolog.Logger) *Controller {
	if evictDelay <= 0 {
		evictDelay = DefaultEvictDelay
	}
	if scheduler == nil {
		scheduler = NewScheduler()
	}
	return &Controller{
		logger:     logger.With().Str("component", "moderation").Logger(),
		rooms:      rooms,
		effects:    effects,
		scheduler:  scheduler,
		evictDelay: evictDelay,
	}
}

// Scheduler exposes the eviction timers so the dispatcher can cancel them
func (c *Controller) Scheduler() *Scheduler {
	return c.scheduler
}

// Perform authorizes and applies one instructor action. Exactly one
// instructor-action-performed is sent to the requester whatever the outcome.
func (c *Controller) Perform(roomID, requestingConnectionID string, action Action, targetUserID string) (res Result) {
	res = Result{Action: action, TargetUserID: targetUserID}
	defer func() {
		c.report(requestingConnectionID, res)
	}()

	requester, ok := c.rooms.ResolveByConnection(roomID, requestingConnectionID)
	if !ok || !requester.IsInstructor {
		res.Err = ErrNotInstructor
		return res
	}
	target, ok := c.rooms.ResolveByUser(roomID, targetUserID)
	if !ok {
		res.Err = fmt.Errorf("%w: %s", ErrTargetNotFound, targetUserID)
		return res
	}
	if target.IsInstructor {
		res.Err = ErrTargetIsInstructor
		return res
	}

	notice := protocol.NewMessage(protocol.EventInstructorActionReceived, protocol.InstructorActionReceived{
		Action:         string(action),
		InstructorName: requester.Profile.DisplayName(),
		InstructorID:   requester.UserID,
	})

	switch {
	case action.Advisory():
		c.effects.SendTo(target.ConnectionID, notice)

	case action == ActionStopScreenShare:
		updated, err := c.rooms.Update(roomID, target.UserID, func(p *room.Participant) {
			p.IsScreenSharing = false
		})
		if err != nil {
			res.Err = err
			return res
		}
		c.effects.SendTo(target.ConnectionID, notice)
		c.effects.Broadcast(roomID, protocol.NewMessage(protocol.EventScreenShareStopped, protocol.ScreenShareChanged{
			UserID:   updated.UserID,
			SocketID: updated.ConnectionID,
			User:     updated.Profile,
		}), "")

	case action == ActionDisconnect:
		connectionID := target.ConnectionID
		c.effects.SendTo(connectionID, notice)
		c.effects.Evict(roomID, connectionID)
		c.scheduler.Schedule(connectionID, c.evictDelay, func() {
			c.effects.CloseConnection(connectionID)
		})

	default:
		res.Err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
		return res
	}

	res.Success = true
	return res
}

func (c *Controller) report(requestingConnectionID string, res Result) {
	payload := protocol.InstructorActionPerformed{
		Action:       string(res.Action),
		TargetUserID: res.TargetUserID,
		Success:      res.Success,
	}
	event := c.logger.Info()
	if res.Err != nil {
		payload.Error = res.Err.Error()
		event = c.logger.Warn().Err(res.Err)
	}
	event.
		Str("socketId", requestingConnectionID).
		Str("action", string(res.Action)).
		Str("targetUserId", res.TargetUserID).
		Bool("success", res.Success).
		Msg("instructor action")

	c.effects.SendTo(requestingConnectionID, protocol.NewMessage(protocol.EventInstructorActionPerformed, payload))
}
