// Package session owns the stream sessions of conversation turns.
//
// # Overview
//
// A Manager maps a Key (tenant scope plus conversation id) to a Session.
// Each session holds one stream.Buffer, the producer lease for it, and the
// consumers currently reading it. The manager is an explicit instance built
// from Config; there is no process-wide registry.
//
// # Lifecycle
//
//	open ──End──▶ sealed ──retention elapsed──▶ expired
//
// Open returns the producer for a new session, or the existing session with
// a nil producer while a turn is still running. OpenAdmitted runs an
// admission step before the previous stream of the key is replaced; a
// rejected admission leaves that stream untouched. Opening, rehydrating, and
// expiring a key are serialized per key, so journal rows of one turn are
// never deleted on behalf of another. Attach works on open and
// sealed sessions and, when a Journal is configured, on sealed sessions that
// only survive in storage. Expire reclaims sealed sessions older than the
// retention window; consumer activity never affects expiry.
//
// # Cancellation
//
// Detaching a consumer never touches the producer. Only Abort and Close stop
// a running turn, appending Error{Cancelled} and End before cancelling the
// producer context. Abort after Close returns ErrManagerClosed.
package session
