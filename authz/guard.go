package authz

import "errors"

// ErrForbidden is the only failure a guard produces.
var ErrForbidden = errors.New("forbidden")

// Operation is the action a caller attempts on a resource.
type Operation uint8

const (
	OpRead Operation = iota
	OpCreate
	OpUpdate
	OpDelete
)

func (op Operation) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Subject is the verified caller a guard evaluates.
type Subject struct {
	ID    string
	Roles RoleSet
}

// IsAdmin reports whether the subject holds RoleAdmin.
func (s Subject) IsAdmin() bool {
	return s.Roles.Has(RoleAdmin)
}

// Resource carries the ownership fields guards inspect. AssigneeID is empty
// when the resource is unassigned.
type Resource struct {
	OwnerID    string
	AssigneeID string
}

// Guard decides whether subject may perform op on resource. It returns nil to
// allow and ErrForbidden to deny.
type Guard func(subject Subject, resource Resource, op Operation) error

// Check evaluates g. A nil guard denies.
func Check(g Guard, subject Subject, resource Resource, op Operation) error {
	if g == nil {
		return ErrForbidden
	}
	if err := g(subject, resource, op); err != nil {
		return ErrForbidden
	}
	return nil
}

// RequireRoles allows subjects holding at least one of required. An empty
// required list denies everyone.
func RequireRoles(required ...Role) Guard {
	want := NewRoleSet(required...)
	return func(subject Subject, _ Resource, _ Operation) error {
		if subject.Roles.Intersects(want) {
			return nil
		}
		return ErrForbidden
	}
}

// Ownership allows admins and the resource owner for every operation.
func Ownership() Guard {
	return func(subject Subject, resource Resource, _ Operation) error {
		if ownerOrAdmin(subject, resource) {
			return nil
		}
		return ErrForbidden
	}
}

// OwnershipOrAssignment extends Ownership: the assignee may read and update
// but never delete.
func OwnershipOrAssignment() Guard {
	return func(subject Subject, resource Resource, op Operation) error {
		if ownerOrAdmin(subject, resource) {
			return nil
		}
		if op != OpRead && op != OpUpdate {
			return ErrForbidden
		}
		if resource.AssigneeID != "" && resource.AssigneeID == subject.ID {
			return nil
		}
		return ErrForbidden
	}
}

// All allows only when every guard allows. All() with no guards denies.
func All(guards ...Guard) Guard {
	return func(subject Subject, resource Resource, op Operation) error {
		if len(guards) == 0 {
			return ErrForbidden
		}
		for _, g := range guards {
			if err := Check(g, subject, resource, op); err != nil {
				return err
			}
		}
		return nil
	}
}

// Any allows when at least one guard allows.
func Any(guards ...Guard) Guard {
	return func(subject Subject, resource Resource, op Operation) error {
		for _, g := range guards {
			if Check(g, subject, resource, op) == nil {
				return nil
			}
		}
		return ErrForbidden
	}
}

func ownerOrAdmin(subject Subject, resource Resource) bool {
	if subject.IsAdmin() {
		return true
	}
	return subject.ID != "" && resource.OwnerID == subject.ID
}
