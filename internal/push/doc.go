// Package push fans session state out to connected clients.
//
// The Gateway keeps a multimap from session and user ids to clients and
// delivers each session event best-effort: a client whose outbound buffer is
// full is disconnected rather than waited on, and recovers current truth by
// resyncing when it reconnects.
package push
