// Package internal provides the query structures of the dstore package.
//
// Write commands are encoded with the write package and travel through the RAFT log. Queries
// are read-only and executed locally on the state machine via SyncRead or StaleRead, so they are
// passed as plain Go values and never serialized.
//
// Query Format:
//
//   - Type: The query operation to perform (Get, Info)
//   - CF: The column family to read from (Get only)
//   - Key: The user key to query (empty for Info)
package internal
