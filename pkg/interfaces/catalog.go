package interfaces

import (
	"context"

	"liveclass/pkg/types"
)

// ClassCatalog is the read side of the class-metadata source.
// The live core only looks classes up; writes happen through the admin CLI.
type ClassCatalog interface {
	// GetClass returns ErrClassNotFound when the id is unknown
	GetClass(ctx context.Context, classID string) (*types.Class, error)

	// ListActiveClasses returns classes whose status is active
	ListActiveClasses(ctx context.Context) ([]*types.Class, error)

	// HealthCheck verifies the backing store is reachable
	HealthCheck(ctx context.Context) error

	Close() error
}
