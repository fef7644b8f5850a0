// Package testdb provides helpers for tests that run against a real Postgres
// database. Tests using it skip unless POMO_TEST_DATABASE_URL or DATABASE_URL
// is set, and are normally guarded by the integration build tag.
package testdb
