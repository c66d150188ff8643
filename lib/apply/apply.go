package apply

import (
	"fmt"
	"math"
	"time"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("apply")

// UnsafeIndex is the index of writes that bypass the log. They are never tracked in the
// modification index table.
const UnsafeIndex = math.MaxUint64

var (
	writeCmdPut         = metrics.NewCounter(`pkv_write_cmd_total{type="put"}`)
	writeCmdDelete      = metrics.NewCounter(`pkv_write_cmd_total{type="delete"}`)
	writeCmdDeleteRange = metrics.NewCounter(`pkv_write_cmd_total{type="delete_range"}`)
	writeCmdIngest      = metrics.NewCounter(`pkv_write_cmd_total{type="ingest_sst"}`)
	skippedOps          = metrics.NewCounter(`pkv_apply_skipped_ops_total`)
	flushes             = metrics.NewCounter(`pkv_apply_flush_total`)
	fatalErrors         = metrics.NewCounter(`pkv_apply_fatal_total`)
	flushDuration       = metrics.NewHistogram(`pkv_apply_flush_duration_seconds`)
)

// Config configures an Applier.
type Config struct {
	// FlushThresholdBytes commits the staging batch at the next entry boundary once it holds this
	// many bytes (0 = only flush at the end of a cycle).
	FlushThresholdBytes int
}

// DefaultConfig returns the default applier configuration.
func DefaultConfig() Config {
	return Config{FlushThresholdBytes: 4 << 20}
}

// Applier applies committed write commands of one partition.
type Applier struct {
	meta     partition.Meta
	engine   db.KVEngine
	importer ingest.Importer
	cfg      Config

	modifications [db.NumDataCFs]uint64
	appliedIndex  uint64
	appliedTerm   uint64

	wb           db.WriteBatch // nil until the first mutation of a cycle
	sizeDiffHint int64
	keyBuf       []byte
}

// NewApplier creates the applier of a partition and loads its modification index table and applied
// index from the engine.
func NewApplier(meta partition.Meta, engine db.KVEngine, importer ingest.Importer, cfg Config) (*Applier, error) {
	a := &Applier{
		meta:     meta.Clone(),
		engine:   engine,
		importer: importer,
		cfg:      cfg,
	}

	for off := 0; off < db.NumDataCFs; off++ {
		cf := db.CF(off)
		raw, ok, err := engine.Get(db.CFRaft, db.ModificationIndexKey(meta.ID, cf))
		if err != nil {
			return nil, fmt.Errorf("failed to load modification index of %s: %w", cf, err)
		}
		if !ok {
			continue
		}
		if a.modifications[off], err = db.DecodeUint64(raw); err != nil {
			return nil, fmt.Errorf("modification index of %s: %w", cf, err)
		}
	}

	raw, ok, err := engine.Get(db.CFRaft, db.AppliedIndexKey(meta.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load applied index: %w", err)
	}
	if ok {
		if len(raw) != 16 {
			return nil, fmt.Errorf("invalid applied index encoding of length %d", len(raw))
		}
		a.appliedIndex, _ = db.DecodeUint64(raw[:8])
		a.appliedTerm, _ = db.DecodeUint64(raw[8:])
	}

	return a, nil
}

// --------------------------------------------------------------------------
// Apply Cycle
// --------------------------------------------------------------------------

// ApplyEntry applies one committed command at the given log index. The returned error is the
// result for the proposer; ops before the failing one stay staged. Panics with *FatalError.
func (a *Applier) ApplyEntry(index uint64, data []byte) error {
	h, ops, err := write.Decode(data)
	if err != nil {
		a.fatal(index, "decode", err)
	}
	if h.PartitionID != a.meta.ID {
		a.fatal(index, "decode", fmt.Errorf("entry belongs to partition %d", h.PartitionID))
	}

	err = a.applyOps(index, ops)

	a.appliedIndex = index
	a.appliedTerm = h.Term
	if a.cfg.FlushThresholdBytes > 0 && a.wb != nil && a.wb.DataSize() >= a.cfg.FlushThresholdBytes {
		a.flush()
	}
	return err
}

// ApplyUnsafeWrite applies a command that bypassed the log and commits it right away. The
// modification index table is not advanced, so replayed log entries are never skipped because of it.
func (a *Applier) ApplyUnsafeWrite(data []byte) error {
	defer a.flush()

	_, ops, err := write.Decode(data)
	if err != nil {
		a.fatal(UnsafeIndex, "decode", err)
	}
	return a.applyOps(UnsafeIndex, ops)
}

// FinishCycle commits everything staged since the last flush.
func (a *Applier) FinishCycle() {
	a.flush()
}

func (a *Applier) applyOps(index uint64, ops []write.Op) error {
	for _, op := range ops {
		var err error
		switch op.Type {
		case write.OpTPut:
			err = a.applyPut(op.CF, index, op.Key, op.Value)
		case write.OpTDelete:
			err = a.applyDelete(op.CF, index, op.Key)
		case write.OpTDeleteRange:
			err = a.applyDeleteRange(op.CF, index, op.Key, op.EndKey)
		case write.OpTIngest:
			err = a.applyIngest(index, op.Files)
		default:
			a.fatal(index, "decode", fmt.Errorf("unknown op type %s", op.Type))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Ops
// --------------------------------------------------------------------------

func (a *Applier) shouldSkip(off int, index uint64) bool {
	if index <= a.modifications[off] {
		skippedOps.Inc()
		return true
	}
	return false
}

func (a *Applier) applyPut(cf db.CF, index uint64, key, value []byte) error {
	writeCmdPut.Inc()
	off := cf.DataOffset()
	if a.shouldSkip(off, index) {
		return nil
	}
	if err := partition.CheckKeyInRange(key, a.meta); err != nil {
		return err
	}
	a.keyBuf = db.DataKey(key, a.keyBuf)
	a.ensureWriteBuffer()
	if err := a.wb.Put(cf, a.keyBuf, value); err != nil {
		a.fatal(index, "put", fmt.Errorf("failed to write key %q to %s: %w", key, cf, err))
	}
	a.sizeDiffHint += int64(len(a.keyBuf) + len(value))
	if index != UnsafeIndex {
		a.modifications[off] = index
	}
	return nil
}

func (a *Applier) applyDelete(cf db.CF, index uint64, key []byte) error {
	writeCmdDelete.Inc()
	off := cf.DataOffset()
	if a.shouldSkip(off, index) {
		return nil
	}
	if err := partition.CheckKeyInRange(key, a.meta); err != nil {
		return err
	}
	a.keyBuf = db.DataKey(key, a.keyBuf)
	a.ensureWriteBuffer()
	if err := a.wb.Delete(cf, a.keyBuf); err != nil {
		a.fatal(index, "delete", fmt.Errorf("failed to delete key %q from %s: %w", key, cf, err))
	}
	a.sizeDiffHint -= int64(len(a.keyBuf))
	if index != UnsafeIndex {
		a.modifications[off] = index
	}
	return nil
}

// applyDeleteRange only records the index. Removing the keys is left to the cleanup that runs
// after split and merge, which owns whole key ranges.
func (a *Applier) applyDeleteRange(cf db.CF, index uint64, start, end []byte) error {
	writeCmdDeleteRange.Inc()
	off := cf.DataOffset()
	if a.shouldSkip(off, index) {
		return nil
	}
	if err := partition.CheckKeyInRange(start, a.meta); err != nil {
		return err
	}
	if index != UnsafeIndex {
		a.modifications[off] = index
	}
	return nil
}

func (a *Applier) applyIngest(index uint64, files []ingest.Descriptor) error {
	writeCmdIngest.Inc()

	// ingested files are gone after the first application, so a replay must not validate them again
	skip := len(files) > 0
	for _, f := range files {
		if !f.CF.IsData() || index > a.modifications[f.CF.DataOffset()] {
			skip = false
		}
	}
	if skip {
		skippedOps.Inc()
		return nil
	}

	validated := make([]*ingest.Validated, 0, len(files))
	for _, f := range files {
		if err := ingest.CheckForIngestion(f, a.meta); err != nil {
			log.Errorf("partition %d: ingest of file %s refused: %v", a.meta.ID, f.UUID, err)
			if delErr := a.importer.Delete(f); delErr != nil {
				log.Warningf("partition %d: failed to delete refused file %s: %v", a.meta.ID, f.UUID, delErr)
			}
			return err
		}
		v, err := a.importer.Validate(f)
		if err != nil {
			a.fatal(index, "ingest", fmt.Errorf("corrupted file %s: %w", f.UUID, err))
		}
		validated = append(validated, v)
	}

	a.flush()
	if err := a.importer.Ingest(validated, a.engine); err != nil {
		a.fatal(index, "ingest", err)
	}

	if index != UnsafeIndex {
		for _, f := range files {
			a.modifications[f.CF.DataOffset()] = index
		}
		// persist the new indexes right away, the files cannot be validated a second time
		a.ensureWriteBuffer()
		a.flush()
	}
	return nil
}

// --------------------------------------------------------------------------
// Staging Buffer
// --------------------------------------------------------------------------

func (a *Applier) ensureWriteBuffer() {
	if a.wb == nil {
		a.wb = a.engine.NewWriteBatch()
	}
}

// flush commits the staging batch together with the modification index table and the applied index.
// Without an open batch there is nothing to commit.
func (a *Applier) flush() {
	if a.wb == nil {
		return
	}
	start := time.Now()
	wb := a.wb
	a.wb = nil
	defer wb.Close()

	for off := 0; off < db.NumDataCFs; off++ {
		if err := wb.Put(db.CFRaft, db.ModificationIndexKey(a.meta.ID, db.CF(off)), db.EncodeUint64(a.modifications[off])); err != nil {
			a.fatal(a.appliedIndex, "flush", err)
		}
	}
	applied := append(db.EncodeUint64(a.appliedIndex), db.EncodeUint64(a.appliedTerm)...)
	if err := wb.Put(db.CFRaft, db.AppliedIndexKey(a.meta.ID), applied); err != nil {
		a.fatal(a.appliedIndex, "flush", err)
	}

	if err := wb.Write(); err != nil {
		a.fatal(a.appliedIndex, "flush", fmt.Errorf("failed to commit write batch: %w", err))
	}
	flushes.Inc()
	flushDuration.UpdateDuration(start)
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// SetMeta replaces the partition metadata after a boundary or membership change. Only the apply
// goroutine may call it.
func (a *Applier) SetMeta(meta partition.Meta) {
	a.meta = meta.Clone()
}

func (a *Applier) Meta() partition.Meta {
	return a.meta
}

// ModificationIndex returns the index of the last applied mutation of a data column family.
func (a *Applier) ModificationIndex(cf db.CF) uint64 {
	return a.modifications[cf.DataOffset()]
}

// AppliedIndex returns the last applied log index and the term of its command.
func (a *Applier) AppliedIndex() (index, term uint64) {
	return a.appliedIndex, a.appliedTerm
}

// SizeDiffHint returns the approximate number of bytes added (negative: removed) since the applier
// was created. It drives size based maintenance decisions like split checks.
func (a *Applier) SizeDiffHint() int64 {
	return a.sizeDiffHint
}

// Info is a snapshot of the applier state.
type Info struct {
	PartitionID         uint64            `json:"partition_id"`
	AppliedIndex        uint64            `json:"applied_index"`
	AppliedTerm         uint64            `json:"applied_term"`
	ModificationIndexes map[string]uint64 `json:"modification_indexes"`
	SizeDiffHint        int64             `json:"size_diff_hint"`
}

func (a *Applier) Info() Info {
	info := Info{
		PartitionID:         a.meta.ID,
		AppliedIndex:        a.appliedIndex,
		AppliedTerm:         a.appliedTerm,
		ModificationIndexes: make(map[string]uint64, db.NumDataCFs),
		SizeDiffHint:        a.sizeDiffHint,
	}
	for off := 0; off < db.NumDataCFs; off++ {
		info.ModificationIndexes[db.CF(off).String()] = a.modifications[off]
	}
	return info
}
