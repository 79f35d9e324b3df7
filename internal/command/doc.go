// Package command correlates asynchronous device commands with their
// out-of-band responses.
//
// A command is dispatched with a unique ID, the issuer writes the command
// record wherever the responder will see it, and the waiter blocks until a
// matching response is delivered or a fixed timeout elapses. Late and
// duplicate deliveries are ignored.
package command
