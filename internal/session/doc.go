// Package session persists the one piece of scanner state that must survive
// a restart: whether the polls are open. Ballot lifecycle state is never
// written here.
//
// Storage is a SQLite database opened with WAL journaling. Writes retry with
// backoff while the database is busy.
package session
