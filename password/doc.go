// Package password implements credential hashing and verification with
// Argon2id defaults and bcrypt compatibility.
//
// # Output format
//
// Argon2id hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// bcrypt hashes use the standard $2a$/$2b$/$2y$ encoding. [Multi] hashes with
// the configured [Algorithm] and verifies either scheme by prefix, so hashes
// produced by older systems keep verifying while [Multi.NeedsUpgrade] flags
// them for re-hashing.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials. Callers supply plaintext and receive hashes.
//   - Enforce password policy (length, composition, reuse).
//   - Log plaintext passwords.
package password
