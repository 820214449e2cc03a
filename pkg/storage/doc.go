// Package storage persists point-in-time snapshots of the gateway's
// configuration, provider health and request totals.
//
// Snapshots are written to SQLite (pure Go driver, WAL mode) and taken on a
// cron schedule by Scheduler, which also prunes snapshots older than the
// retention window. MemoryStore offers the same contract without a database.
//
// Credentials never reach the store: snapshots are built from the gateway's
// redacted configuration view.
package storage
