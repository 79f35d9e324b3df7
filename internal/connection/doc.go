// Package connection shares authenticated backend connections between
// devices.
//
// A Manager caches one Connection per (credentials, group), keyed by a hash
// so that raw credentials are never held as map keys. Callers Acquire a Ref
// and Wait on it; late callers receive the already-resolved Connection.
// Authentication is retried forever with a jittered delay unless the failure
// is terminal. The Connection is torn down only after the last Ref is
// released and an idle grace period passes without a new Acquire.
//
//	Acquire ──▶ entry (refs++) ──▶ authenticate (retry) ──▶ Connection
//	Release ──▶ refs-- ──▶ refs == 0 ──▶ grace timer ──▶ Close
package connection
