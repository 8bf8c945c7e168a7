// Package ledger tracks the server-side validity of refresh-token identifiers.
//
// # Implementations
//
//   - [RedisLedger] for multi-instance deployments. Each operation is one Lua
//     script, so consume is an atomic get-and-delete and mass revocation
//     snapshots the subject index in the same step that deletes it.
//   - [MemoryLedger] for single-process deployments and tests.
//
// Both keep a per-subject index so [Ledger.RevokeAll] touches only the
// subject's own entries.
//
// # What this package must NOT do
//
//   - Parse or verify tokens.
//   - Decide what a missing entry means. Reuse detection belongs to the caller.
//   - Report a backend failure as an absent entry.
package ledger
