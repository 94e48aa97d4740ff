// ABOUTME: Caller identity and privilege roles carried in auth and tool dispatch
// ABOUTME: Roles are ordered so permission checks can compare them directly

package protocol

import (
	"fmt"
	"strings"
)

// Role is a user's privilege level. Higher values carry more permissions.
type Role int

// Privilege levels, lowest first.
const (
	RoleNone Role = iota
	RolePlayer
	RoleTrusted
	RoleAssistant
	RoleGamemaster
)

var roleNames = map[Role]string{
	RoleNone:       "none",
	RolePlayer:     "player",
	RoleTrusted:    "trusted",
	RoleAssistant:  "assistant",
	RoleGamemaster: "gamemaster",
}

// String returns the lowercase role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ParseRole converts a role name (case-insensitive) into a Role.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "gm" {
		return RoleGamemaster, nil
	}
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return RoleNone, fmt.Errorf("unknown role %q", s)
}

// Caller identifies the acting user. It is sent in the auth frame and passed
// to the tool executor for every tool call.
type Caller struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}
