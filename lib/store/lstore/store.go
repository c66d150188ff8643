package lstore

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/pKV/lib/apply"
	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("store")

// Config configures a local store.
type Config struct {
	Peer    peer.Config
	Apply   apply.Config
	Timeout time.Duration
}

// DefaultConfig returns the default local store configuration.
func DefaultConfig() Config {
	return Config{
		Peer:    peer.DefaultConfig(),
		Apply:   apply.DefaultConfig(),
		Timeout: 5 * time.Second,
	}
}

type storeImpl struct {
	store.PeerWriter
	p        *peer.Peer
	engine   db.KVEngine
	importer *ingest.SSTImporter
	log      *localLog
}

// NewLocalStore creates a store for one partition on a single node.
// This store implementation is not replicated: proposals are committed right away and applied
// by a local apply goroutine, going through the same batching and apply path as replicated writes.
// The importer must share the filesystem of the engine created by factory.
func NewLocalStore(meta partition.Meta, factory store.EngineFactory, importer *ingest.SSTImporter, cfg Config) (store.IPartitionStore, error) {
	engine, err := factory(meta.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine of partition %d: %w", meta.ID, err)
	}
	if !engine.SupportsFeature(db.FeatureBatch | db.FeatureGet) {
		_ = engine.Close()
		return nil, fmt.Errorf("engine %s does not support batches", engine.GetInfo().DbType)
	}

	applier, err := apply.NewApplier(meta, engine, importer, cfg.Apply)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}

	l := newLocalLog(applier)
	p := peer.NewPeer(meta, l, l, cfg.Peer)
	p.Start()

	return &storeImpl{
		PeerWriter: store.PeerWriter{Peer: p, Timeout: cfg.Timeout, Retries: store.DefaultRetries},
		p:          p,
		engine:     engine,
		importer:   importer,
		log:        l,
	}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(cf db.CF, key []byte) ([]byte, bool, error) {
	meta := s.p.Meta()
	if !cf.IsData() {
		return nil, false, partition.Errorf(partition.RetCInvalidOperation, meta.ID, "cannot read column family %s", cf)
	}
	if err := partition.CheckKeyInRange(key, meta); err != nil {
		return nil, false, err
	}
	val, ok, err := s.engine.Get(cf, db.DataKey(key, nil))
	if err != nil {
		return nil, false, partition.NewError(partition.RetCInternalError, meta.ID, err.Error())
	}
	return val, ok, nil
}

func (s *storeImpl) GetInfo() (store.Info, error) {
	// the peer forwards unsafe writes to the apply goroutine, ask it first so they are included
	stats, err := s.p.Stats()
	if err != nil {
		return store.Info{}, err
	}
	applyInfo, err := s.log.info()
	if err != nil {
		return store.Info{}, err
	}
	return store.Info{
		Partition: s.p.Meta(),
		Apply:     applyInfo,
		Proposals: stats,
		DB:        s.engine.GetInfo(),
	}, nil
}

func (s *storeImpl) Meta() partition.Meta {
	return s.p.Meta()
}

func (s *storeImpl) UpdateMeta(meta partition.Meta) error {
	if err := s.log.setMeta(meta); err != nil {
		return err
	}
	return s.p.UpdateMeta(meta)
}

func (s *storeImpl) BeginBoundaryChange() error {
	return s.p.BeginBoundaryChange()
}

// ResolveBoundaryChange queues the new metadata behind every write proposed with the old one,
// so the apply side checks each entry against the range it was validated with.
func (s *storeImpl) ResolveBoundaryChange(meta partition.Meta) error {
	if err := s.log.setMeta(meta); err != nil {
		return err
	}
	return s.p.ResolveBoundaryChange(meta)
}

func (s *storeImpl) PrepareMerge() error {
	return s.p.PrepareMerge()
}

func (s *storeImpl) EnterMerging() error {
	return s.p.EnterMerging()
}

func (s *storeImpl) LeaveMerge(meta partition.Meta) error {
	if err := s.log.setMeta(meta); err != nil {
		return err
	}
	return s.p.LeaveMerge(meta)
}

func (s *storeImpl) Peer() *peer.Peer {
	return s.p
}

func (s *storeImpl) NewFileWriter(cf db.CF) (*ingest.FileWriter, error) {
	return s.importer.NewFileWriter(s.p.Meta(), cf)
}

func (s *storeImpl) Close() error {
	s.p.Destroy()
	s.log.stop()
	return s.engine.Close()
}
