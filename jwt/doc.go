// Package jwt mints and verifies the two token kinds: short-lived access tokens
// carrying subject and roles, and long-lived refresh tokens carrying a ledger
// identifier in jti. Each kind is signed with its own key.
package jwt
