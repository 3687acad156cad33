package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrClassNotFound = errors.New("class not found")
	ErrUnauthorized  = errors.New("unauthorized access")
)
