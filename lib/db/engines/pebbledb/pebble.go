package pebbledb

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/sstable"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("pebble")

// TableFormat is the sstable format accepted by IngestExternalFiles for databases opened by this package.
const TableFormat = sstable.TableFormatRocksDBv2

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// Options configures the engine.
type Options struct {
	// FS is the filesystem the engine and ingested files live on (nil = vfs.Default).
	FS vfs.FS
	// Sync makes every batch commit fsync the WAL.
	Sync bool
	// CacheSizeMB sets the block cache size (0 = pebble default).
	CacheSizeMB int64
}

// DefaultOptions returns options for a durable on-disk engine.
func DefaultOptions() *Options {
	return &Options{
		FS:   vfs.Default,
		Sync: true,
	}
}

type pebbleImpl struct {
	db        *pebble.DB
	dir       string
	writeOpts *pebble.WriteOptions
}

// NewPebbleEngine opens (or creates) a pebble database in dir.
func NewPebbleEngine(dir string, opts *Options) (db.KVEngine, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.FS == nil {
		opts.FS = vfs.Default
	}

	pebbleOpts := &pebble.Options{
		FS:     opts.FS,
		Logger: pebbleLogger{},
	}
	if opts.CacheSizeMB > 0 {
		cache := pebble.NewCache(opts.CacheSizeMB << 20)
		defer cache.Unref() // DB will hold reference
		pebbleOpts.Cache = cache
	}

	pdb, err := pebble.Open(dir, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	writeOpts := pebble.NoSync
	if opts.Sync {
		writeOpts = pebble.Sync
	}

	return &pebbleImpl{db: pdb, dir: dir, writeOpts: writeOpts}, nil
}

// pebbleLogger routes pebble's logging to the dragonboat logger used everywhere else.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Panicf(format, args...)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db.KVEngine)
// --------------------------------------------------------------------------

func (p *pebbleImpl) Put(cf db.CF, key, value []byte) error {
	return p.db.Set(db.EngineKey(cf, key, nil), value, p.writeOpts)
}

func (p *pebbleImpl) Delete(cf db.CF, key []byte) error {
	return p.db.Delete(db.EngineKey(cf, key, nil), p.writeOpts)
}

func (p *pebbleImpl) NewWriteBatch() db.WriteBatch {
	return &writeBatch{batch: p.db.NewBatch(), writeOpts: p.writeOpts}
}

func (p *pebbleImpl) IngestExternalFiles(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return p.db.Ingest(paths)
}

func (p *pebbleImpl) Get(cf db.CF, key []byte) ([]byte, bool, error) {
	return get(p.db, cf, key)
}

func (p *pebbleImpl) Scan(cf db.CF, start, end []byte, fn func(key, value []byte) bool) error {
	return scan(p.db, cf, start, end, fn)
}

func (p *pebbleImpl) NewSnapshot() db.Snapshot {
	return &snapshot{snap: p.db.NewSnapshot()}
}

// reader is implemented by both *pebble.DB and *pebble.Snapshot.
type reader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) *pebble.Iterator
}

func get(r reader, cf db.CF, key []byte) ([]byte, bool, error) {
	val, closer, err := r.Get(db.EngineKey(cf, key, nil))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	return bytes.Clone(val), true, nil
}

func scan(r reader, cf db.CF, start, end []byte, fn func(key, value []byte) bool) error {
	upper := db.EngineKey(cf, end, nil)
	if len(end) == 0 {
		upper = []byte{byte(cf) + 1}
	}
	iter := r.NewIter(&pebble.IterOptions{
		LowerBound: db.EngineKey(cf, start, nil),
		UpperBound: upper,
	})
	for valid := iter.First(); valid; valid = iter.Next() {
		if !fn(iter.Key()[1:], iter.Value()) {
			break
		}
	}
	return iter.Close()
}

func (p *pebbleImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeaturePut | db.FeatureGet | db.FeatureDelete | db.FeatureBatch | db.FeatureIngest |
		db.FeatureScan | db.FeatureSnapshot
	return feature&supported == feature
}

func (p *pebbleImpl) GetInfo() db.DatabaseInfo {
	m := p.db.Metrics()
	return db.DatabaseInfo{
		SizeBytes: int(m.DiskSpaceUsage()),
		DbType:    db.ImplPebble,
		SupportedFeatures: []db.Feature{
			db.FeaturePut, db.FeatureGet, db.FeatureDelete, db.FeatureBatch, db.FeatureIngest, db.FeatureScan,
			db.FeatureSnapshot,
		},
		Metadata: map[string]any{
			"dir":         p.dir,
			"l0_files":    m.Levels[0].NumFiles,
			"compactions": m.Compact.Count,
			"flushes":     m.Flush.Count,
		},
	}
}

func (p *pebbleImpl) Close() error {
	return p.db.Close()
}

// --------------------------------------------------------------------------
// Write Batch
// --------------------------------------------------------------------------

type writeBatch struct {
	batch     *pebble.Batch
	writeOpts *pebble.WriteOptions
	keyBuf    []byte
}

// the batch copies keys and values, so keyBuf can be reused between calls

func (b *writeBatch) Put(cf db.CF, key, value []byte) error {
	b.keyBuf = db.EngineKey(cf, key, b.keyBuf)
	return b.batch.Set(b.keyBuf, value, nil)
}

func (b *writeBatch) Delete(cf db.CF, key []byte) error {
	b.keyBuf = db.EngineKey(cf, key, b.keyBuf)
	return b.batch.Delete(b.keyBuf, nil)
}

func (b *writeBatch) Count() int {
	return int(b.batch.Count())
}

func (b *writeBatch) DataSize() int {
	return b.batch.Len()
}

func (b *writeBatch) Write() error {
	return b.batch.Commit(b.writeOpts)
}

func (b *writeBatch) Close() error {
	return b.batch.Close()
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

type snapshot struct {
	snap *pebble.Snapshot
}

func (s *snapshot) Get(cf db.CF, key []byte) ([]byte, bool, error) {
	return get(s.snap, cf, key)
}

func (s *snapshot) Scan(cf db.CF, start, end []byte, fn func(key, value []byte) bool) error {
	return scan(s.snap, cf, start, end, fn)
}

func (s *snapshot) Close() error {
	return s.snap.Close()
}
