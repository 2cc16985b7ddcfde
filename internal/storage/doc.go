// Package storage persists scenario run reports.
//
// A run is one execution of a scenario against a fresh virtual executor. The
// store keeps the run summary and every task execution observed during the
// run. Scheduled (pending) work is never persisted.
//
// Drivers:
//   - "file": JSON Lines files on an afero filesystem
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
package storage
