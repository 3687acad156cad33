package signaling

import "errors"

var (
	ErrTargetNotFound  = errors.New("signal target not found in room")
	ErrSenderNotInRoom = errors.New("sender is not a participant of the room")
)
