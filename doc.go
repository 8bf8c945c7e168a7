// Package tokenguard issues short-lived access tokens and single-use rotating
// refresh tokens, and answers role and ownership questions about the holder.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// tokenguard is the public surface. It exposes [Engine], [Builder], [Config],
// the sentinel errors and value types ([TokenPair], [Claims]). Token
// encoding lives in jwt, the refresh ledger in ledger, guard logic in authz
// and credential hashing in password. Audit dispatch lives under internal/.
//
// # Token lifecycle
//
// Login mints an access token and a refresh token whose jti is registered in
// the ledger. Refresh consumes that jti atomically and mints a new pair. A
// jti that is presented after it was consumed or revoked revokes every
// refresh token of the subject and fails with [ErrTokenReuseDetected].
//
// # What this package must NOT do
//
//   - Touch the ledger from [Engine.Authenticate]; access tokens are verified
//     statelessly.
//   - Treat a ledger failure as an absent token. Backend errors surface as
//     [ErrUnavailable] and the request is denied.
//   - Log token strings or secrets.
package tokenguard
