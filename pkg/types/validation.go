package types

import (
	"regexp"
	"unicode/utf8"
)

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// Validate checks the identity handed over by the auth collaborator
func (u User) Validate() error {
	if !IsValidUserID(u.ID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(u.Role) {
		return ErrInvalidRole
	}
	if utf8.RuneCountInString(u.Name) > 100 {
		return ErrInvalidUserName
	}
	return nil
}

// Validate checks class metadata before it is written to the catalog
func (c *Class) Validate() error {
	if !IsValidClassID(c.ID) {
		return ErrInvalidClassID
	}
	if !IsValidRoomID(c.RoomID) {
		return ErrInvalidRoomID
	}
	if n := utf8.RuneCountInString(c.Title); n < 1 || n > 200 {
		return ErrInvalidClassName
	}
	if c.InstructorID != "" && !IsValidUserID(c.InstructorID) {
		return ErrInvalidUserID
	}
	return nil
}

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks room identifiers coming from clients
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 128 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidClassID uses the same alphabet as room IDs since rooms are usually
// derived from scheduled classes
func IsValidClassID(classID string) bool {
	return IsValidRoomID(classID)
}

// IsValidRole accepts the two roles the classroom knows about
func IsValidRole(role string) bool {
	switch role {
	case RoleInstructor, RoleStudent:
		return true
	default:
		return false
	}
}
