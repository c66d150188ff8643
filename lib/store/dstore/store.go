package dstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/pKV/lib/apply"
	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/lib/store/dstore/internal"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	retries = 5
	log     = logger.GetLogger("store")
)

// Config configures the partitions of a host.
type Config struct {
	Peer    peer.Config
	Apply   apply.Config
	Timeout time.Duration
	// SharedImportDir must be set if the import directory is shared by all replicas. Ingesting
	// requires the files on every replica, without a shared directory Ingest is refused.
	SharedImportDir bool
}

// DefaultConfig returns the default distributed store configuration.
func DefaultConfig() Config {
	return Config{
		Peer:    peer.DefaultConfig(),
		Apply:   apply.DefaultConfig(),
		Timeout: 5 * time.Second,
	}
}

// Host runs the partition replicas of one Dragonboat NodeHost.
type Host struct {
	nh       *dragonboat.NodeHost
	factory  store.EngineFactory
	importer *ingest.SSTImporter
	cfg      Config

	metas    *xsync.MapOf[uint64, partition.Meta]
	machines *xsync.MapOf[uint64, *StateMachine]
}

// NewHost creates a host. The importer must share the filesystem of the engines created by factory.
func NewHost(nh *dragonboat.NodeHost, factory store.EngineFactory, importer *ingest.SSTImporter, cfg Config) *Host {
	return &Host{
		nh:       nh,
		factory:  factory,
		importer: importer,
		cfg:      cfg,
		metas:    xsync.NewMapOf[uint64, partition.Meta](),
		machines: xsync.NewMapOf[uint64, *StateMachine](),
	}
}

// StartReplica starts the replica of a partition (the Dragonboat shard with the partition id) and
// returns the store for it. The replica only accepts writes while it is the leader.
func (h *Host) StartReplica(meta partition.Meta, members map[uint64]dragonboat.Target, join bool, rc config.Config) (store.IPartitionStore, error) {
	if rc.ShardID != meta.ID {
		return nil, fmt.Errorf("shard id %d does not match partition %d", rc.ShardID, meta.ID)
	}
	h.metas.Store(meta.ID, meta.Clone())
	if err := h.nh.StartOnDiskReplica(members, join, h.createStateMachine, rc); err != nil {
		h.metas.Delete(meta.ID)
		return nil, fmt.Errorf("failed to start partition %d: %w", meta.ID, err)
	}

	raftLog := &replicatedLog{
		host:      h,
		shardID:   meta.ID,
		replicaID: rc.ReplicaID,
		session:   h.nh.GetNoOPSession(meta.ID),
		timeout:   h.cfg.Timeout,
	}
	peerCfg := h.cfg.Peer
	peerCfg.ReplicaID = rc.ReplicaID
	p := peer.NewPeer(meta, raftLog, raftLog, peerCfg)
	p.Start()

	return &storeImpl{
		PeerWriter: store.PeerWriter{Peer: p, Timeout: h.cfg.Timeout, Retries: retries},
		host:       h,
		p:          p,
		shardID:    meta.ID,
		replicaID:  rc.ReplicaID,
	}, nil
}

// storeImpl is the store of one partition replica. Writes go through the peer of the partition,
// reads are linearizable reads on the state machine.
type storeImpl struct {
	store.PeerWriter
	host      *Host
	p         *peer.Peer
	shardID   uint64
	replicaID uint64
}

// --------------------------------------------------------------------------
// Internal read operations (used by interface methods)
// --------------------------------------------------------------------------

// read is a generic helper function queries the statemachine
// and attempts to convert the response into the expected type R.
//
// This function uses the SyncRead function (dragonboat) by default to Query the state machine.
// If linearizability is not required, the stale parameter can be set to true to use the faster StaleRead function.
//
// Is the read operation fails due to a system busy error, the function retries up to 5 times.
func read[R any](s *storeImpl, q internal.Query, stale bool) (R, error) {
	var zero R
	for i := 0; i < retries; i++ {

		var res interface{}
		var err error

		// Query the state machine, use StaleRead if stale is set otherwise use SyncRead (default)
		if stale {
			res, err = s.host.nh.StaleRead(s.shardID, q)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
			res, err = s.host.nh.SyncRead(ctx, s.shardID, q)
			cancel()
		}

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.Timeout / 10)
			continue
		}

		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return zero, partition.NewError(partition.RetCTimeout, s.shardID, "read timed out")
			}
			return zero, mapError(s.shardID, err)
		}

		// The state machine is expected to return the response in the expected type R.
		casted, ok := res.(R)
		if !ok {
			return zero, partition.Errorf(partition.RetCInternalError, s.shardID,
				"unexpected type: received %T, expected %T", res, zero)
		}
		return casted, nil
	}
	return zero, partition.NewError(partition.RetCTimeout, s.shardID, "system busy")
}

// --------------------------------------------------------------------------
// Interface Methods (docs see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Ingest(files ...ingest.Descriptor) error {
	if !s.host.cfg.SharedImportDir {
		return partition.NewError(partition.RetCUnsupportedOperation, s.shardID,
			"ingest requires an import directory shared by all replicas")
	}
	return s.PeerWriter.Ingest(files...)
}

func (s *storeImpl) Get(cf db.CF, key []byte) ([]byte, bool, error) {
	res, err := read[internal.QueryResult](s, internal.Query{
		Type: internal.QueryTGet,
		CF:   cf,
		Key:  key,
	}, false)
	if err != nil {
		return nil, false, err
	}
	return res.Value, res.Ok, nil
}

func (s *storeImpl) GetInfo() (store.Info, error) {
	res, err := read[internal.InfoResult](
		s,
		internal.Query{Type: internal.QueryTInfo},
		true, // Note: allow for stale reads
	)
	if err != nil {
		return store.Info{}, err
	}
	stats, err := s.p.Stats()
	if err != nil {
		return store.Info{}, err
	}
	return store.Info{
		Partition: s.p.Meta(),
		Apply:     res.Apply,
		Proposals: stats,
		DB:        res.DB,
	}, nil
}

func (s *storeImpl) Meta() partition.Meta {
	return s.p.Meta()
}

func (s *storeImpl) UpdateMeta(meta partition.Meta) error {
	s.installApplyMeta(meta)
	return s.p.UpdateMeta(meta)
}

func (s *storeImpl) BeginBoundaryChange() error {
	return s.p.BeginBoundaryChange()
}

func (s *storeImpl) ResolveBoundaryChange(meta partition.Meta) error {
	s.installApplyMeta(meta)
	return s.p.ResolveBoundaryChange(meta)
}

func (s *storeImpl) PrepareMerge() error {
	return s.p.PrepareMerge()
}

func (s *storeImpl) EnterMerging() error {
	return s.p.EnterMerging()
}

func (s *storeImpl) LeaveMerge(meta partition.Meta) error {
	s.installApplyMeta(meta)
	return s.p.LeaveMerge(meta)
}

// installApplyMeta hands meta to the state machine and keeps it for a state machine created later
// (e.g. after a restart of the replica).
func (s *storeImpl) installApplyMeta(meta partition.Meta) {
	s.host.metas.Store(s.shardID, meta.Clone())
	if fsm, ok := s.host.machines.Load(s.shardID); ok {
		fsm.setMeta(meta)
	}
}

func (s *storeImpl) Peer() *peer.Peer {
	return s.p
}

func (s *storeImpl) NewFileWriter(cf db.CF) (*ingest.FileWriter, error) {
	return s.host.importer.NewFileWriter(s.p.Meta(), cf)
}

func (s *storeImpl) Close() error {
	s.p.Destroy()
	if err := s.host.nh.StopReplica(s.shardID, s.replicaID); err != nil && !errors.Is(err, dragonboat.ErrShardNotFound) {
		return fmt.Errorf("failed to stop partition %d: %w", s.shardID, err)
	}
	s.host.metas.Delete(s.shardID)
	return nil
}
