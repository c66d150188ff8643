package store

import (
	"github.com/ValentinKolb/pKV/lib/apply"
	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/ValentinKolb/pKV/lib/write"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// EngineFactory creates the engine of a partition.
// This is used to abstract the creation of the engine from the store implementation.
type EngineFactory func(partitionID uint64) (db.KVEngine, error)

// IStore is the generic interface for interacting with one partition of the key–value store.
// Keys are user keys, the store translates them to the data key encoding.
// Errors are of type *partition.Error (nil on success).
type IStore interface {
	// Put inserts or updates a key–value pair.
	Put(cf db.CF, key, value []byte) (err error)
	// Delete removes a key.
	Delete(cf db.CF, key []byte) (err error)
	// DeleteRange removes the keys in [start, end). The command is replicated and tracked, the
	// range deletion itself is carried out by boundary change cleanup.
	DeleteRange(cf db.CF, start, end []byte) (err error)
	// Ingest atomically adds external files, previously built with NewFileWriter.
	Ingest(files ...ingest.Descriptor) (err error)
	// Write proposes the ops as one log entry and applies them in order. It returns the log index
	// they were applied at. If an op is rejected while applying (e.g. its key left the partition),
	// the error is returned and the ops before it in the same entry stay applied.
	Write(ops ...write.Op) (res write.Result, err error)
	// Get returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(cf db.CF, key []byte) (value []byte, loaded bool, err error)
	// GetInfo returns metadata about the partition and the engine underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetInfo() (info Info, err error)
}

// IPartitionStore is an IStore that owns a partition replica.
type IPartitionStore interface {
	IStore
	// Meta returns the current metadata of the partition.
	Meta() partition.Meta
	// UpdateMeta installs new metadata on the proposal and the apply side.
	UpdateMeta(meta partition.Meta) (err error)
	// BeginBoundaryChange proposes pending writes and parks later ones until ResolveBoundaryChange.
	BeginBoundaryChange() (err error)
	// ResolveBoundaryChange installs meta on the apply side, then on the proposal side, and
	// resubmits the parked writes.
	ResolveBoundaryChange(meta partition.Meta) (err error)
	// PrepareMerge proposes pending writes and rejects later ones until LeaveMerge.
	PrepareMerge() (err error)
	// EnterMerging marks the merge as running.
	EnterMerging() (err error)
	// LeaveMerge installs meta (after commit or rollback) on the apply side, then ends the merge.
	LeaveMerge(meta partition.Meta) (err error)
	// Peer gives access to the proposal side of the partition.
	Peer() *peer.Peer
	// NewFileWriter starts an external file for Ingest.
	NewFileWriter(cf db.CF) (w *ingest.FileWriter, err error)
	// Close stops the partition. Pending requests complete with RetCPartitionRemoved.
	Close() (err error)
}

// Info describes a partition replica.
type Info struct {
	Partition partition.Meta  `json:"partition"`
	Apply     apply.Info      `json:"apply"`
	Proposals peer.Stats      `json:"proposals"`
	DB        db.DatabaseInfo `json:"db"`
}
