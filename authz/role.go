package authz

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned when a role name is not part of the closed role set.
var ErrUnknownRole = errors.New("unknown role")

// Role is a member of the closed role enumeration.
type Role uint8

const (
	// RoleUser is granted to every registered principal.
	RoleUser Role = iota
	// RoleAdmin bypasses ownership checks.
	RoleAdmin
	roleCount
)

var roleNames = [roleCount]string{
	RoleUser:  "user",
	RoleAdmin: "admin",
}

// String returns the wire name of r.
func (r Role) String() string {
	if r >= roleCount {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

// Valid reports whether r is a declared role.
func (r Role) Valid() bool {
	return r < roleCount
}

// ParseRole maps a wire name to a Role. Matching is case-insensitive.
func ParseRole(name string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for i, n := range roleNames {
		if n == normalized {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// RoleSet is a bitset over Role. The zero value is the empty set.
type RoleSet uint8

// NewRoleSet builds a set from roles. Invalid roles are ignored.
func NewRoleSet(roles ...Role) RoleSet {
	var s RoleSet
	for _, r := range roles {
		s = s.With(r)
	}
	return s
}

// ParseRoleSet builds a set from wire names. Duplicates collapse.
func ParseRoleSet(names []string) (RoleSet, error) {
	var s RoleSet
	for _, name := range names {
		r, err := ParseRole(name)
		if err != nil {
			return 0, err
		}
		s = s.With(r)
	}
	return s, nil
}

// With returns s with r added.
func (s RoleSet) With(r Role) RoleSet {
	if !r.Valid() {
		return s
	}
	return s | 1<<r
}

// Has reports whether r is in s.
func (s RoleSet) Has(r Role) bool {
	return r.Valid() && s&(1<<r) != 0
}

// Intersects reports whether s and other share at least one role.
func (s RoleSet) Intersects(other RoleSet) bool {
	return s&other != 0
}

// Empty reports whether s holds no roles.
func (s RoleSet) Empty() bool {
	return s == 0
}

// Roles lists the members of s in declaration order.
func (s RoleSet) Roles() []Role {
	out := make([]Role, 0, roleCount)
	for r := Role(0); r < roleCount; r++ {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Strings lists the wire names of the members of s in declaration order.
func (s RoleSet) Strings() []string {
	roles := s.Roles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.String()
	}
	return out
}

func (s RoleSet) String() string {
	return strings.Join(s.Strings(), ",")
}

// MarshalJSON encodes s as an array of role names.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of role names.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	parsed, err := ParseRoleSet(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
