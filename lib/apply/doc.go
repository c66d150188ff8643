// Package apply executes committed write commands against the local storage engine.
//
// An Applier belongs to one partition and is driven by exactly one goroutine, the apply goroutine
// of the partition's log. Commands arrive in log order, but the same command may arrive more than
// once (replay after restart, snapshot races). Idempotence comes from the modification index
// table: for every data column family the applier records the log index of the last mutation it
// applied to that family, and skips every op whose index is not greater. The table is stored in
// the raft column family and written in the same batch as the data it describes.
//
// Mutations are staged in a write batch that is opened on first use and committed
//   - at the end of an apply cycle (FinishCycle),
//   - at an entry boundary once the staged size crosses Config.FlushThresholdBytes,
//   - before files are ingested, since ingestion is a separate atomic engine operation.
//
// Failures split in two classes. Request level problems (a key outside the partition, a file that
// targets another epoch) are returned as errors and reach the client. Problems that mean this
// replica can no longer match its peers (the engine rejects a write, a committed entry does not
// decode, a validated file is corrupt) panic with a *FatalError.
package apply
