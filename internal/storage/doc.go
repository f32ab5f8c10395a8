// Package storage holds named state snapshots for the persistence registry.
//
// Drivers:
//   - file: one file per snapshot name under a directory, replaced atomically
//   - sqlite: a single database file with a snapshots table
package storage
