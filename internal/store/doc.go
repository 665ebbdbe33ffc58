// Package store provides persistent storage for identities, roles, and the
// audit log using SQLite.
//
// # Architecture
//
// The package is interface-driven. Store combines three narrower interfaces:
//
//   - IdentityStore: identities and their role assignments
//   - RoleStore: roles and their permission sets
//   - AuditStore: append-only log of administrative changes
//
// SQLiteStore implements all of them in a single struct. MockStore is an
// in-memory implementation with the same semantics for use in tests.
//
// # Drivers
//
// NewSQLiteStore opens the database with the pure-Go modernc.org/sqlite
// driver ("sqlite"). OpenSQLiteStore accepts "sqlite3" to use
// github.com/mattn/go-sqlite3 instead when cgo is available. Both DSNs turn
// on foreign keys, WAL journaling, and a busy timeout for every connection.
//
// # Referential rules
//
// Identities are never hard-deleted; they are disabled. A role that any
// identity holds cannot be renamed or deleted (ErrRoleInUse), which keeps
// role references from dangling. Role assignment and removal are idempotent.
//
// # Errors
//
// Lookups return sentinel errors (ErrIdentityNotFound, ErrRoleNotFound) that
// callers compare with errors.Is. Driver failures are wrapped with context
// and never mapped onto the not-found sentinels.
package store
