package types

import (
	"strings"
	"time"
)

// Roles carried by an authenticated identity
const (
	RoleInstructor = "instructor"
	RoleStudent    = "student"
)

// Class status values stored in the catalog
const (
	ClassStatusActive = "active"
	ClassStatusEnded  = "ended"
)

// User is the authenticated identity attached to a connection.
// The core only reads ID, Role and the display fields; everything else is
// passed through to clients untouched.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Role      string `json:"role"`
}

// IsInstructor reports whether the identity's role grants instructor status
func (u User) IsInstructor() bool {
	return u.Role == RoleInstructor
}

// DisplayName returns the best available human readable name
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.ID
}

// Merge fills display fields missing on u from profile.
// ID and Role are never taken from profile.
func (u User) Merge(profile User) User {
	if u.Name == "" {
		u.Name = profile.Name
	}
	if u.FirstName == "" {
		u.FirstName = profile.FirstName
	}
	if u.LastName == "" {
		u.LastName = profile.LastName
	}
	if u.Avatar == "" {
		u.Avatar = profile.Avatar
	}
	return u
}

// Class is the read-only class metadata supplied by the scheduling system
type Class struct {
	ID           string     `json:"id"`
	RoomID       string     `json:"roomId"`
	Title        string     `json:"title"`
	InstructorID string     `json:"instructorId"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	Status       string     `json:"status"`
}
