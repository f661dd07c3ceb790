// Package store provides persistent storage for huddle using SQLite.
//
// # Architecture
//
// Storage is split into narrow interfaces so each consumer depends only on
// what it touches:
//
//   - UserStore: Accounts, lookup by email, username search
//   - GroupStore: Groups and their member sets
//   - DirectStore: One conversation per unordered pair of users
//   - MessageLog: Append-only per-room message log with sequence numbers
//   - AssistantStore: One assistant session per user and its entries
//
// SQLiteStore implements all of them; Store is their union.
//
// # Ordering
//
// AppendMessage assigns the next seq for a room inside a single
// INSERT ... SELECT statement, so seq is dense and strictly increasing per
// room even with concurrent writers.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Suggested by huddle init: ~/.local/share/huddle/huddle.db
//   - Override: HUDDLE_DB_PATH
//   - Testing: :memory: (single shared connection)
//
// # Errors
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateConversation: A direct conversation for the pair exists
//   - ErrDuplicateEmail: The email is already registered
//
// # Testing
//
// NewMockStore returns an in-memory Store for unit tests. Use
// NewSQLiteStore(":memory:") when the SQL itself is under test.
package store
