// Package storage persists teams, standup instances and responses.
//
// Two drivers are supported:
//   - "sqlite": a single database file (modernc.org/sqlite, no cgo). Team
//     writes made through the store are published on the in-process event bus
//     and surface on Changes.
//   - "postgres": pgx connection pool. A trigger on the teams table emits
//     NOTIFY team_changes, so writes from any client surface on Changes.
//
// SetTimezone never produces a change event on either driver.
package storage
