// Package queue sequences outbound backend calls.
//
// Jobs are partitioned into lanes keyed by job kind, plus the device ID for
// state reports. Each lane has a sliding-window rate limit; once a window is
// full, further jobs fold into a single pending overflow job that fires when
// the window frees a slot. Notifications over quota are rejected instead.
//
// A single worker handles admitted jobs in FIFO order, so at most one call
// is in flight and per-device reports reach the backend in enqueue order.
// Failed calls are retried with a jittered delay when the error is transient.
package queue
