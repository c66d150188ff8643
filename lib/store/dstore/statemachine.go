package dstore

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/pKV/lib/apply"
	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/store/dstore/internal"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// StateMachine is the on-disk state machine of one partition replica for Dragonboat RAFT.
// It owns the engine of the partition and applies committed write commands through an
// apply.Applier. The applied index lives in the engine, so a restarted replica only replays
// the entries after it.
type StateMachine struct {
	shardID   uint64
	replicaID uint64
	host      *Host

	mu          sync.Mutex // guards applier and closed
	engine      db.KVEngine
	applier     *apply.Applier
	closed      bool
	appliedTerm atomic.Uint64
}

// createStateMachine is the sm.CreateOnDiskStateMachineFunc of the host.
func (h *Host) createStateMachine(shardID, replicaID uint64) sm.IOnDiskStateMachine {
	return &StateMachine{
		shardID:   shardID,
		replicaID: replicaID,
		host:      h,
	}
}

// Open opens the engine and returns the last applied index.
func (fsm *StateMachine) Open(_ <-chan struct{}) (uint64, error) {
	meta, ok := fsm.host.metas.Load(fsm.shardID)
	if !ok {
		return 0, fmt.Errorf("no metadata registered for partition %d", fsm.shardID)
	}
	engine, err := fsm.host.factory(fsm.shardID)
	if err != nil {
		return 0, fmt.Errorf("failed to open engine of partition %d: %w", fsm.shardID, err)
	}
	applier, err := apply.NewApplier(meta, engine, fsm.host.importer, fsm.host.cfg.Apply)
	if err != nil {
		_ = engine.Close()
		return 0, err
	}

	fsm.mu.Lock()
	fsm.engine = engine
	fsm.applier = applier
	fsm.mu.Unlock()

	index, term := applier.AppliedIndex()
	fsm.appliedTerm.Store(term)
	fsm.host.machines.Store(fsm.shardID, fsm)
	log.Infof("partition %d: opened at applied index %d (term %d)", fsm.shardID, index, term)
	return index, nil
}

// Update applies a batch of committed entries. The batch is one apply cycle, everything staged is
// committed before Update returns.
func (fsm *StateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(partition.RetCSuccess)}
			continue
		}
		err := fsm.applier.ApplyEntry(e.Index, e.Cmd)
		entries[idx].Result = entryResult(e.Index, err)
	}
	fsm.applier.FinishCycle()

	_, term := fsm.applier.AppliedIndex()
	fsm.appliedTerm.Store(term)

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("Statemachine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// entryResult encodes the outcome of an entry for the proposer: the RetCode as value, the log
// index (success) or the error message (failure) as data.
func entryResult(index uint64, err error) sm.Result {
	if err != nil {
		return sm.Result{Value: uint64(partition.CodeOf(err)), Data: []byte(err.Error())}
	}
	return sm.Result{Value: uint64(partition.RetCSuccess), Data: db.EncodeUint64(index)}
}

// ScheduleUnsafeWrite applies a command that bypassed the log on this replica only.
func (fsm *StateMachine) ScheduleUnsafeWrite(data []byte) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	if fsm.closed || fsm.applier == nil {
		return
	}
	if err := fsm.applier.ApplyUnsafeWrite(data); err != nil {
		log.Warningf("partition %d: unsafe write failed: %v", fsm.shardID, err)
	}
}

// Lookup handles read-only queries.
func (fsm *StateMachine) Lookup(itf interface{}) (interface{}, error) {

	// try to parse Query into Query struct
	q, ok := itf.(internal.Query)
	if !ok {
		return nil, partition.Errorf(partition.RetCInternalError, fsm.shardID, "invalid Query type: %T", itf)
	}

	// Handle different Query types
	switch q.Type {
	case internal.QueryTGet:
		if !q.CF.IsData() {
			return nil, partition.Errorf(partition.RetCInvalidOperation, fsm.shardID, "cannot read column family %s", q.CF)
		}
		fsm.mu.Lock()
		meta := fsm.applier.Meta()
		fsm.mu.Unlock()
		if err := partition.CheckKeyInRange(q.Key, meta); err != nil {
			return nil, err
		}
		val, ok, err := fsm.engine.Get(q.CF, db.DataKey(q.Key, nil))
		if err != nil {
			return nil, partition.NewError(partition.RetCInternalError, fsm.shardID, err.Error())
		}
		return internal.QueryResult{Value: val, Ok: ok}, nil
	case internal.QueryTInfo:
		fsm.mu.Lock()
		info := fsm.applier.Info()
		fsm.mu.Unlock()
		return internal.InfoResult{Apply: info, DB: fsm.engine.GetInfo()}, nil
	default:
		return nil, partition.Errorf(partition.RetCInvalidOperation, fsm.shardID, "unknown Query operation: %d", q.Type)
	}
}

// setMeta installs new partition metadata on the apply side.
func (fsm *StateMachine) setMeta(meta partition.Meta) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	if fsm.applier != nil {
		fsm.applier.SetMeta(meta)
	}
}

// Sync is a no-op, every apply cycle is committed with a synced write.
func (fsm *StateMachine) Sync() error {
	return nil
}

// PrepareSnapshot takes an engine snapshot. Update is not running concurrently, so the snapshot
// matches the applied index stored in it.
func (fsm *StateMachine) PrepareSnapshot() (interface{}, error) {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	if !fsm.engine.SupportsFeature(db.FeatureSnapshot) {
		return nil, fmt.Errorf("the used engine does not support snapshots")
	}
	return fsm.engine.NewSnapshot(), nil
}

// SaveSnapshot streams the snapshot taken by PrepareSnapshot to the writer.
func (fsm *StateMachine) SaveSnapshot(ctx interface{}, writer io.Writer, done <-chan struct{}) error {
	snap, ok := ctx.(db.Snapshot)
	if !ok {
		return errUnknownSnapshot
	}
	defer snap.Close()
	return writeSnapshot(snap, writer, done)
}

// RecoverFromSnapshot replaces the engine content with the snapshot and reloads the apply state.
func (fsm *StateMachine) RecoverFromSnapshot(r io.Reader, done <-chan struct{}) error {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()

	scratch, err := fsm.host.importer.NewScratchFile(fmt.Sprintf("snapshot-%d", fsm.shardID))
	if err != nil {
		return err
	}
	defer scratch.Remove()
	if err := readSnapshot(fsm.engine, scratch, r, done); err != nil {
		return err
	}
	applier, err := apply.NewApplier(fsm.applier.Meta(), fsm.engine, fsm.host.importer, fsm.host.cfg.Apply)
	if err != nil {
		return err
	}
	fsm.applier = applier

	index, term := applier.AppliedIndex()
	fsm.appliedTerm.Store(term)
	log.Infof("partition %d: recovered from snapshot at applied index %d", fsm.shardID, index)
	return nil
}

// Close closes the engine.
func (fsm *StateMachine) Close() error {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	if fsm.closed {
		return nil
	}
	fsm.closed = true
	fsm.host.machines.Compute(fsm.shardID, func(old *StateMachine, loaded bool) (*StateMachine, bool) {
		// a replica started again may already have registered its new state machine
		return old, !loaded || old == fsm
	})
	if fsm.engine == nil {
		return nil
	}
	return fsm.engine.Close()
}
