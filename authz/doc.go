// Package authz holds the closed role enumeration and the pure authorization
// guards evaluated after a caller has been authenticated.
//
// # Guards
//
//   - [RequireRoles] allows when the caller's roles intersect the required set.
//   - [Ownership] allows admins and the resource owner.
//   - [OwnershipOrAssignment] additionally lets the assignee read and update.
//
// Guards compose with [All] and [Any].
//
// # What this package must NOT do
//
//   - Perform I/O or look resources up. A missing resource is reported by the
//     caller's lookup before any guard runs.
//   - Return anything other than nil or [ErrForbidden] from a guard.
package authz
