package protocol

import "errors"

var (
	ErrMalformed      = errors.New("malformed message")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMissingField   = errors.New("missing required field")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
)
