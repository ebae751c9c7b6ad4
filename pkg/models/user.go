package models

import (
	"fmt"
	"strings"
)

// Role is a user's global role in the tracker.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleProjectManager Role = "PROJECT_MANAGER"
	RoleTeamLeader     Role = "TEAM_LEADER"
	RoleTeamMember     Role = "TEAM_MEMBER"
	RoleGuest          Role = "GUEST"
)

// AllRoles lists every known role.
var AllRoles = []Role{RoleAdmin, RoleProjectManager, RoleTeamLeader, RoleTeamMember, RoleGuest}

// ParseRole normalizes user input into a Role.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range AllRoles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// User is a tracker account.
type User struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
	Role Role   `json:"role" yaml:"role"`
}

// UserRef is the embedded reference to a user carried by tasks and projects.
type UserRef struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Role Role   `json:"role,omitempty" yaml:"role,omitempty"`
}

// Principal identifies the caller of every authorization decision. It is
// passed explicitly rather than read from ambient session state.
type Principal struct {
	ID   string `json:"id" yaml:"id"`
	Role Role   `json:"role" yaml:"role"`
}

// CapabilitySet is what a principal may do to one task.
type CapabilitySet struct {
	CanEditTask         bool `json:"canEditTask"`
	CanDeleteTask       bool `json:"canDeleteTask"`
	CanChangeState      bool `json:"canChangeState"`
	CanComment          bool `json:"canComment"`
	CanUploadAttachment bool `json:"canUploadAttachment"`
}
