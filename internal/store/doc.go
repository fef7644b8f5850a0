// Package store defines interfaces for session persistence and the task
// interval counter. These interfaces keep the session engine independent of
// the database technology behind them.
package store
