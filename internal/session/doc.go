// Package session implements the server-authoritative focus session timer.
//
// Each active session is owned by a Runtime: one goroutine that applies
// commands from a FIFO inbox to the pure Transition function, persists the
// result, arms or cancels the session's single deadline timer, and publishes
// the new state. Runtimes are reachable only through the Registry. The Engine
// is the facade used by transports, and the Coordinator drives startup
// recovery, heartbeats and graceful shutdown.
package session
