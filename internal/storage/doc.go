// Package storage keeps the run history: one record per finished task
// execution. History is for operators only; nothing is ever re-scheduled from it.
//
// Drivers:
//   - file: JSON Lines with periodic compaction
//   - sqlite: SQLite database (build with -tags sqlite)
package storage
