package types

import (
	"strings"
	"testing"
)

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr error
	}{
		{
			name:    "valid student",
			user:    User{ID: "student_1", Name: "Ada", Role: RoleStudent},
			wantErr: nil,
		},
		{
			name:    "valid instructor with dotted id",
			user:    User{ID: "prof.smith", Role: RoleInstructor},
			wantErr: nil,
		},
		{
			name:    "empty id",
			user:    User{ID: "", Role: RoleStudent},
			wantErr: ErrInvalidUserID,
		},
		{
			name:    "id with spaces",
			user:    User{ID: "bad id", Role: RoleStudent},
			wantErr: ErrInvalidUserID,
		},
		{
			name:    "unknown role",
			user:    User{ID: "u1", Role: "admin"},
			wantErr: ErrInvalidRole,
		},
		{
			name:    "name too long",
			user:    User{ID: "u1", Role: RoleStudent, Name: strings.Repeat("a", 101)},
			wantErr: ErrInvalidUserName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.user.Validate(); err != tt.wantErr {
				t.Errorf("User.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestUser_DisplayName(t *testing.T) {
	tests := []struct {
		user User
		want string
	}{
		{User{ID: "u1", Name: "Grace Hopper"}, "Grace Hopper"},
		{User{ID: "u1", FirstName: "Grace", LastName: "Hopper"}, "Grace Hopper"},
		{User{ID: "u1", FirstName: "Grace"}, "Grace"},
		{User{ID: "u1"}, "u1"},
	}
	for _, tt := range tests {
		if got := tt.user.DisplayName(); got != tt.want {
			t.Errorf("DisplayName() = %q, want %q", got, tt.want)
		}
	}
}

func TestUser_MergeKeepsIdentity(t *testing.T) {
	identity := User{ID: "s1", Role: RoleStudent}
	profile := User{ID: "spoofed", Role: RoleInstructor, Name: "Sam", Avatar: "a.png"}

	merged := identity.Merge(profile)
	if merged.ID != "s1" || merged.Role != RoleStudent {
		t.Errorf("Merge must not change id/role, got %+v", merged)
	}
	if merged.Name != "Sam" || merged.Avatar != "a.png" {
		t.Errorf("Merge should fill display fields, got %+v", merged)
	}

	named := User{ID: "s1", Role: RoleStudent, Name: "Samuel"}
	if got := named.Merge(profile).Name; got != "Samuel" {
		t.Errorf("Merge should keep existing name, got %q", got)
	}
}

func TestClass_Validate(t *testing.T) {
	valid := Class{ID: "cls-1", RoomID: "room:cls-1", Title: "Algebra", InstructorID: "prof_1"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid class, got %v", err)
	}

	noTitle := valid
	noTitle.Title = ""
	if err := noTitle.Validate(); err != ErrInvalidClassName {
		t.Errorf("expected ErrInvalidClassName, got %v", err)
	}

	badRoom := valid
	badRoom.RoomID = "room 1"
	if err := badRoom.Validate(); err != ErrInvalidRoomID {
		t.Errorf("expected ErrInvalidRoomID, got %v", err)
	}

	badInstructor := valid
	badInstructor.InstructorID = "prof!"
	if err := badInstructor.Validate(); err != ErrInvalidUserID {
		t.Errorf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestIsValidRoomID(t *testing.T) {
	if !IsValidRoomID("class:2024-fall.math_101") {
		t.Error("expected room id with colon, dot, dash and underscore to be valid")
	}
	if IsValidRoomID(strings.Repeat("r", 129)) {
		t.Error("expected 129 character room id to be rejected")
	}
	if IsValidRoomID("") {
		t.Error("expected empty room id to be rejected")
	}
}
