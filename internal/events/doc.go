// Package events provides the lifecycle notification channel used by background
// task envelopes.
//
// A Notifier keeps an ordered list of observers per event kind and forwards each
// emission to them. It performs no shared-state mutation of its own: observers
// decide what to do with an event, and a Dispatcher decides on which goroutine
// they do it.
//
// The primary components are:
// - Event: a single emission (started, finished, failed, restored)
// - Notifier: subscription registry and emitter
// - Dispatcher: delivery strategy (SyncDispatcher, ChannelDispatcher)
package events
