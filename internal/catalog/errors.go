package catalog

import "errors"

var (
	ErrClassExists       = errors.New("class already exists")
	ErrClassAlreadyEnded = errors.New("class already ended")
	ErrStoreClosed       = errors.New("catalog store is closed")
	ErrWriteTimeout      = errors.New("catalog write timed out")
)
