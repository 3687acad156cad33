package interfaces

import "liveclass/pkg/types"

// Connection represents one live client transport session.
// Implementations must be safe for concurrent use; Send must never block the
// caller on a slow peer.
type Connection interface {
	// ID returns the server-assigned connection id (the client's socketId)
	ID() string

	// Identity returns the authenticated user attached at connect time
	Identity() types.User

	// Send queues a JSON-encodable value for delivery
	Send(v interface{}) error

	// Close tears down the transport; safe to call more than once
	Close() error
}
