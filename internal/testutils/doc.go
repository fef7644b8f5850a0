// Package testutils provides shared test helpers: in-memory session and task
// stores that follow the store contracts, JWT helpers, and HTTP assertions.
//
//	sessions := testutils.NewMemorySessionStore()
//	tasks := testutils.NewMemoryTaskCounter()
//	engine, err := session.NewEngine(session.DefaultConfig(), sessions, tasks, emitter, testutils.DiscardLogger())
package testutils
