// Package sqlite keeps message history, recipients, threads, pending retry
// receipts and the sent-message log in a single SQLite database.
//
// Protocol state (identity, prekeys, sessions, ratchets) stays in the
// encrypted JSON files of package store.
package sqlite
