package room

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrParticipantNotFound = errors.New("participant not found in room")
	ErrConnectionNotInRoom = errors.New("connection is not part of room")
)
