// Package queue implements the durable outbound mail queue: producers
// enqueue messages, and a single drainer attempts delivery of due entries,
// rescheduling failures on a fixed delay table until they are sent, run out
// of attempts, or are cancelled.
//
// Delivery is at-least-once. Every attempt is claimed in the store before
// the transport is called, and outcomes are written with conditional
// updates, so a cancelled or already-terminal entry is never overwritten.
package queue
