// Package db provides the storage engine abstraction the apply engine writes through.
// It defines the KVEngine interface, the column family model and the key encodings shared by
// every layer that touches persisted bytes.
//
// The package focuses on:
//   - A column family aware interface for single key writes, atomic write batches and
//     atomic ingestion of externally built sorted string tables
//   - Feature discovery through capability flags
//   - One place that defines how user keys, data keys and engine keys relate
//
// Key Components:
//
//   - KVEngine Interface: The capability every engine must provide (Put, Delete, Get, Scan,
//     NewWriteBatch, IngestExternalFiles). Keys handed to it are data keys; the engine prefixes
//     them with their column family.
//
//   - WriteBatch: Staged writes committed atomically by Write. The apply engine keeps one batch
//     open across the entries of an apply cycle and adds the per column family modification
//     indexes to the same batch, so data and index become durable together.
//
//   - Column Families: CFDefault, CFLock and CFWrite hold client data. CFRaft holds partition
//     local metadata (modification index table, applied index) and is never written by clients.
//
//   - Key Encoding:
//     1. User key: the bytes a client writes.
//     2. Data key: DataPrefix + user key. Local metadata keys start with LocalPrefix and
//     therefore sort before every data key.
//     3. Engine key: column family byte + data key. Sorted string tables built for ingestion
//     must contain engine keys.
//
// Related Packages:
//
// The engines/pebbledb package (github.com/ValentinKolb/pKV/lib/db/engines/pebbledb) implements
// KVEngine on top of github.com/cockroachdb/pebble.
//
// The testing package (github.com/ValentinKolb/pKV/lib/db/testing) provides a standardized test
// suite for KVEngine implementations:
//   - RunKVEngineTests: Runs a standardized test suite to validate implementations
package db
