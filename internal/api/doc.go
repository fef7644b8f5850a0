// Package api exposes the session engine over HTTP: chi handlers for the
// session commands and queries, request validation, and the mapping from
// engine and store errors to status codes.
package api
