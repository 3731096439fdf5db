// Package task runs units of work off the caller's goroutine and reports their
// lifecycle. An Envelope wraps a function and its arguments; a Runner (queue plus
// bounded WorkerPool) executes envelopes; observers learn about each run through
// the envelope's events.Notifier.
package task
