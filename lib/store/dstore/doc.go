// Package dstore implements replicated partitions of the key-value store on top of the
// Dragonboat RAFT consensus library. Every partition is one Dragonboat shard whose id is the
// partition id.
//
// Architecture:
//
// The dstore implementation consists of three main components:
//
//   - Host: Owns the Dragonboat NodeHost of a process together with the engine factory and
//     the file importer. It starts partition replicas and keeps a registry of their open
//     state machines (StartReplica, createStateMachine).
//
//   - Store: Implements store.IPartitionStore. Writes are submitted to the peer of the
//     partition, which batches them and proposes the batches through replicatedLog. Reads
//     are SyncRead queries on the state machine.
//
//   - State Machine: A Dragonboat IOnDiskStateMachine. It owns the engine of the partition
//     and applies committed entries with an apply.Applier. The applied index and the
//     modification index table live in the engine, so a restarted replica only replays the
//     entries after the persisted applied index, and replayed entries are skipped.
//
// Write Operations:
//
//  1. The store submits the ops to the peer of the partition
//  2. The peer validates them and merges them into the pending batch
//  3. When the partition goroutine runs out of work, the batch is proposed via NodeHost.Propose
//  4. Once committed, the batch is applied on every replica (Update in statemachine.go)
//  5. The result carries the RetCode and the log index and completes every request of the batch
//
// Requests refused before they reached the log (epoch mismatch, merge in progress, dropped
// proposal) are retried with a fresh header. Timeouts are not retried.
//
// Read Operations:
//
//   - Linearizable Reads: Get uses SyncRead, the replica has applied everything committed
//     before the read when the query runs.
//
//   - Stale Reads: GetInfo uses StaleRead.
//
// Snapshotting and Recovery:
//
//	PrepareSnapshot takes an engine snapshot while no update runs. SaveSnapshot streams every
//	column family of it, including the applied index, followed by an xxhash checksum.
//	RecoverFromSnapshot verifies the checksum, replaces the engine content and reloads the
//	apply state from it.
//
// Ingestion:
//
//	Every replica validates and ingests the files of an ingest command from its own import
//	directory. Unless Config.SharedImportDir is set the store refuses Ingest.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	host := dstore.NewHost(nh, engineFactory, importer, dstore.DefaultConfig())
//	s, err := host.StartReplica(meta, members, false, shardConfig)
//	if err != nil { ... }
//
//	err = s.Put(db.CFDefault, []byte("key"), []byte("value"))
package dstore
