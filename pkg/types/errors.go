package types

import "errors"

var (
	ErrInvalidUserID    = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen/dot only")
	ErrInvalidRole      = errors.New("invalid role: must be 'student' or 'instructor'")
	ErrInvalidRoomID    = errors.New("room ID must be 1-128 characters, alphanumeric + underscore/hyphen/dot/colon only")
	ErrInvalidClassID   = errors.New("class ID must be 1-128 characters, alphanumeric + underscore/hyphen/dot/colon only")
	ErrInvalidClassName = errors.New("class title must be 1-200 characters")
	ErrInvalidUserName  = errors.New("display name must be at most 100 characters")
)
