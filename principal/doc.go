// Package principal provides PrincipalStore implementations: an in-memory
// store for tests and single-process servers, and a database/sql store for
// Postgres.
//
// Both stores can cascade a principal deletion to refresh-token revocation
// through OnDelete.
package principal
