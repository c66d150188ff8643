// Package lstore implements a single-node partition store based on the store.IPartitionStore
// interface.
//
// Writes take the same path as in a replicated deployment: the peer of the partition batches
// them and proposes the batches to a local log, which commits every proposal immediately and
// hands it to a single apply goroutine. The apply goroutine drains everything committed so far,
// applies it in index order and commits the staged writes once per cycle before the requests
// are completed. Data is persisted by the engine, a reopened store continues after the last
// applied index.
//
// Thread Safety:
//
//	All operations are thread-safe. Requests of concurrent callers are ordered by the
//	partition goroutine of the peer; the engine is only written by the apply goroutine.
//
// Usage Example:
//
//	factory := func(id uint64) (db.KVEngine, error) {
//		return pebbledb.NewPebbleEngine(fmt.Sprintf("data/partition-%d", id), nil)
//	}
//	importer, _ := ingest.NewSSTImporter(vfs.Default, "data/import")
//	s, err := lstore.NewLocalStore(meta, factory, importer, lstore.DefaultConfig())
//
//	err = s.Put(db.CFDefault, []byte("key"), []byte("value"))
//	value, found, err := s.Get(db.CFDefault, []byte("key"))
//
// For replicated partitions use the dstore package, which implements the same interface on
// top of Dragonboat.
package lstore
