// Package store provides the Signature Store: the durable, newest-first
// collection of signature entries (the stack index).
//
// # Architecture
//
// Signatures holds the authoritative in-memory collection and delegates
// durability to a Persister:
//
//   - JSONFilePersister: one JSON document {signatures, lastUpdated},
//     rewritten on every mutation (development/test profile)
//   - SQLitePersister: the same snapshot stored transactionally in SQLite
//     via modernc.org/sqlite (production profile)
//   - MemoryPersister: in-memory, with injectable failures (tests)
//
// # Durability
//
// If the snapshot cannot be loaded at startup the store comes up empty and
// logs an error. If a save fails the in-memory mutation stands and the error
// is logged; operators must treat the log line as a durability warning.
//
// # Invariants
//
//   - ids are generated here and never reused
//   - status changes follow CanTransition; anything else is ErrInvalidTransition
//   - processedFilePath is set exactly when status is approved or sent
//   - every mutation appends exactly one HistoryEvent
//
// Stats are folded from the current entries on every call and never stored.
package store
