// Package storage defines the append-only audit history of finished tasks
// and its JSON-lines file implementation. SQL-backed repositories live in the
// mysql, sqlite and postgres subpackages; history.Open selects one from
// configuration. The history is never used to restore tasks after a restart.
package storage
