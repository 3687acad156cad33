package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// ErrInvalidIdentity wraps identities that fail validation
var ErrInvalidIdentity = errors.New("invalid identity")

// Header names set by an authenticating reverse proxy
const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-User-Role"
	HeaderName   = "X-User-Name"
)

// QueryResolver reads the identity an upstream auth layer attached to the
// upgrade request. Query parameters win over proxy headers so browser clients
// can connect directly in development.
type QueryResolver struct {
	// DefaultRole applies when neither query nor headers carry a role.
	// Empty means the role is required.
	DefaultRole string
}

func NewQueryResolver(defaultRole string) *QueryResolver {
	return &QueryResolver{DefaultRole: defaultRole}
}

func (q *QueryResolver) Resolve(r *http.Request) (types.User, error) {
	query := r.URL.Query()
	pick := func(param, header string) string {
		if v := strings.TrimSpace(query.Get(param)); v != "" {
			return v
		}
		if header == "" {
			return ""
		}
		return strings.TrimSpace(r.Header.Get(header))
	}

	user := types.User{
		ID:        pick("user_id", HeaderUserID),
		Role:      pick("role", HeaderRole),
		Name:      pick("name", HeaderName),
		FirstName: pick("first_name", ""),
		LastName:  pick("last_name", ""),
		Avatar:    pick("avatar", ""),
	}

	if user.ID == "" {
		return types.User{}, fmt.Errorf("%w: missing user_id", interfaces.ErrUnauthorized)
	}
	if user.Role == "" {
		user.Role = q.DefaultRole
	}
	if err := user.Validate(); err != nil {
		return types.User{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return user, nil
}
