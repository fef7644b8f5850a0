// Package events provides types and interfaces for publishing session state
// changes.
//
// The session engine emits a SessionEvent after every transition and on each
// heartbeat. Handlers such as the push gateway and the snapshot cache receive
// those events without the engine knowing about them.
//
// The primary components are:
// - SessionEvent: a session snapshot plus the reason it was emitted
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
