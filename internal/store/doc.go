// Package store defines the remote real-time store the device cells sync
// through, with an MQTT-backed implementation and an in-memory one.
//
// The store is a path-addressable tree of JSON values. It supports point
// writes, point deletes, change subscriptions at a path, a connection state
// stream (the ".info/connected" of hosted real-time databases) and writes
// that the store applies on the client's behalf once it disconnects.
//
// Layout:
//
//	device_states/{uid}/{group}/{deviceId}      remote state updates
//	device_nora/{uid}/{group}/{deviceId}        side-channel data
//	device_nora/.../commands/{commandId}        pending async commands
//	device_nora/.../responses                   async command responses
package store
