package interfaces

import (
	"net/http"

	"liveclass/pkg/types"
)

// IdentityResolver turns an incoming upgrade request into a verified user.
// It stands in for the external auth collaborator.
type IdentityResolver interface {
	Resolve(r *http.Request) (types.User, error)
}
