// Package postgres implements the session and task stores from internal/store
// on PostgreSQL through database/sql and the pgx stdlib driver. It also owns
// the embedded goose migrations for the schema those stores expect.
package postgres
