// Package store defines the interface for reading and writing one partition of the key-value
// store, independent of whether the partition is replicated.
//
// Key Components:
//
//   - IStore / IPartitionStore: The core abstraction. Writes (Put, Delete, DeleteRange,
//     Ingest, Write) go through the proposal pipeline of the partition; reads go to the
//     engine. IPartitionStore adds the lifecycle and admin side (metadata updates, the
//     peer for boundary changes and merges, external file writers).
//
//   - PeerWriter: Implements the write operations on top of a peer.Peer, including the
//     retry of requests that were refused before they reached the log.
//
//   - Errors: All operations return *partition.Error values carrying a partition.RetCode.
//     partition.IsRetryable tells callers whether retrying with fresh metadata can succeed.
//
// Implementations:
//
//   - Local Store (lstore): A single-node store with a local log and apply goroutine.
//     Available in the "github.com/ValentinKolb/pKV/lib/store/lstore" package.
//
//   - Distributed Store (dstore): Replicated partitions built on the Dragonboat RAFT
//     library with an on-disk state machine per partition.
//     Available in the "github.com/ValentinKolb/pKV/lib/store/dstore" package.
package store
