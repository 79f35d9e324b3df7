// Package device holds the device model and the per-device state cell.
//
// A Cell owns the in-memory state of one device. Every change, whatever its
// entry point, goes through the same path:
//
//	local update ──┐
//	command patch ─┼──► merge.SafeUpdate ──► full validation ──► commit
//	async response ┘                                              │
//	                                      ┌───────────────────────┼───────────────┐
//	                                      ▼                       ▼               ▼
//	                              report (if synced)       commit observers   local updates
//
// Remote records from the store bypass the merger: they are already
// validated upstream and replace the state wholesale once the cell is synced.
//
// Commands are routed by the declared trait set. Scene and transport-control
// devices emit their commands as events on the local update stream; every
// other device maps commands to state patches with an injected CommandFunc.
// Devices flagged for asynchronous execution hand the command to a remote
// responder through the command correlator instead.
//
// The Registry is a directory of cells; the SQLite history repository keeps
// an audit trail of committed states.
package device
