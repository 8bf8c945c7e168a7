// Package audit implements async event dispatching for security-relevant
// outcomes of login, rotation and revocation.
//
// # Components
//
//   - [Sink] is the interface for event consumers (channel, JSON writer, no-op).
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full semantics.
//   - [Event] is the structured record: timestamp, type, subject, token id, client metadata.
//
// # What this package must NOT do
//
//   - Decide which events to emit. The engine does that.
//   - Import tokenguard or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
