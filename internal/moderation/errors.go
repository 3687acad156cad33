package moderation

import "errors"

var (
	ErrNotInstructor      = errors.New("only the room instructor can perform this action")
	ErrTargetNotFound     = errors.New("target user is not in the room")
	ErrTargetIsInstructor = errors.New("cannot moderate an instructor")
	ErrUnknownAction      = errors.New("unknown instructor action")
)
