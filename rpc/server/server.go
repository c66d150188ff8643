package server

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/db/engines/pebbledb"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/lib/store/dstore"
	"github.com/ValentinKolb/pKV/lib/store/lstore"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewIStoreServerAdapter(),
		fs:         vfs.Default,
		partitions: xsync.NewMapOf[uint64, store.IPartitionStore](),
		router:     partition.NewRouter(),
	}
}

// RPCServer hosts the partitions of one node and serves them through a transport.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter

	fs         vfs.FS
	nodeHost   *dragonboat.NodeHost
	partitions *xsync.MapOf[uint64, store.IPartitionStore]
	router     *partition.Router
}

// --------------------------------------------------------------------------
// Request handling
// --------------------------------------------------------------------------

func (s *RPCServer) registerTransportHandler() {
	s.transport.RegisterHandler(s.handle)
}

func (s *RPCServer) handle(partitionID uint64, req []byte) []byte {
	var msg common.Message
	var resp *common.Message

	if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(fmt.Errorf("failed to deserialize request: %w", err))
	} else if st, err := s.lookup(partitionID, &msg); err != nil {
		resp = common.NewErrorResponse(err)
	} else {
		// Let the adapter handle the request
		resp = s.adapter.Handle(&msg, st)
	}

	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize %s response: %v", resp.MsgType, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Errorf("failed to serialize response: %w", err)))
	}
	return val
}

// lookup returns the store addressed by a request. With transport.AnyPartition the partition
// owning the key of the request is used.
func (s *RPCServer) lookup(partitionID uint64, msg *common.Message) (store.IPartitionStore, error) {
	if partitionID == transport.AnyPartition {
		key, err := routingKey(msg)
		if err != nil {
			return nil, err
		}
		meta, ok := s.router.Locate(key)
		if !ok {
			return nil, partition.Errorf(partition.RetCPartitionNotFound, 0, "no partition for key %q on this node", key)
		}
		partitionID = meta.ID
	}
	st, ok := s.partitions.Load(partitionID)
	if !ok {
		return nil, partition.NewError(partition.RetCPartitionNotFound, partitionID, "partition not found")
	}
	return st, nil
}

// routingKey is the key that decides the partition of a request
func routingKey(msg *common.Message) ([]byte, error) {
	if msg.MsgType != common.MsgTKVWrite {
		if msg.MsgType == common.MsgTKVInfo {
			return nil, partition.NewError(partition.RetCInvalidOperation, 0, "info requests need a partition id")
		}
		return msg.Key, nil
	}
	ops, err := msg.Ops()
	if err != nil {
		return nil, partition.NewError(partition.RetCInvalidOperation, 0, err.Error())
	}
	for _, op := range ops {
		switch {
		case op.Type == write.OpTIngest && len(op.Files) > 0:
			return op.Files[0].Start, nil
		case op.Type != write.OpTIngest:
			return op.Key, nil
		}
	}
	return nil, partition.NewError(partition.RetCInvalidOperation, 0, "empty request")
}

// --------------------------------------------------------------------------
// Setup
// --------------------------------------------------------------------------

// engineFactory creates one pebble engine per partition below the data dir
func (s *RPCServer) engineFactory() store.EngineFactory {
	return func(partitionID uint64) (db.KVEngine, error) {
		dir := filepath.Join(s.config.DataDir, fmt.Sprintf("partition-%d", partitionID))
		return pebbledb.NewPebbleEngine(dir, &pebbledb.Options{FS: s.fs, Sync: true})
	}
}

func (s *RPCServer) init() error {
	if err := common.InitLoggers(s.config); err != nil {
		return err
	}
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	importer, err := ingest.NewSSTImporter(s.fs, filepath.Join(s.config.DataDir, "import"))
	if err != nil {
		return err
	}
	factory := s.engineFactory()

	// Only create the NodeHost if we have remote partitions
	var host *dstore.Host
	if s.config.HasRemotePartition() {
		s.nodeHost, err = dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		host = dstore.NewHost(s.nodeHost, factory, importer, dstore.Config{
			Peer:            s.config.ToPeerConfig(),
			Apply:           s.config.ToApplyConfig(),
			Timeout:         s.config.Timeout(),
			SharedImportDir: s.config.SharedImportDir,
		})
	}

	members := make(map[uint64]dragonboat.Target, len(s.config.ClusterMembers))
	for id, addr := range s.config.ClusterMembers {
		members[id] = dragonboat.Target(addr)
	}

	/*
		Note: A single RPC Server can host any number of local and remote partitions.
		Local partitions apply their writes right away, remote partitions replicate them
		through a Dragonboat shard with the partition id.
	*/
	for _, pc := range s.config.Partitions {
		meta := pc.Meta()

		var st store.IPartitionStore
		switch pc.Type {
		case common.PartitionTypeLocal:
			st, err = lstore.NewLocalStore(meta, factory, importer, lstore.Config{
				Peer:    s.config.ToPeerConfig(),
				Apply:   s.config.ToApplyConfig(),
				Timeout: s.config.Timeout(),
			})
		case common.PartitionTypeRemote:
			st, err = host.StartReplica(meta, members, false, s.config.ToDragonboatConfig(pc.ID))
		default:
			err = fmt.Errorf("invalid partition type: %s", pc.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to start partition %d: %w", pc.ID, err)
		}

		s.partitions.Store(pc.ID, st)
		s.router.Update(meta)
		Logger.Infof("started %s partition %s", pc.Type, meta)
	}

	Logger.Infof("pKV setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the partitions and start the transport layer.
// It blocks until the transport is closed.
func (s *RPCServer) Serve() error {
	if err := s.init(); err != nil {
		return errors.Join(err, s.closePartitions())
	}
	return s.transport.Listen(s.config)
}

// UpdatePartition installs new metadata for a hosted partition, for example after its
// boundaries changed, and updates key routing. A pending boundary change or merge of the
// partition is resolved with the new metadata.
func (s *RPCServer) UpdatePartition(meta partition.Meta) error {
	st, ok := s.partitions.Load(meta.ID)
	if !ok {
		return partition.NewError(partition.RetCPartitionNotFound, meta.ID, "partition not found")
	}
	stats, err := st.Peer().Stats()
	if err != nil {
		return err
	}
	switch {
	case stats.BoundaryChange:
		err = st.ResolveBoundaryChange(meta)
	case stats.Merging:
		err = st.LeaveMerge(meta)
	default:
		err = st.UpdateMeta(meta)
	}
	if err != nil {
		return err
	}
	s.router.Update(meta)
	return nil
}

// Close stops the transport and all partitions. Requests still in flight complete with
// RetCPartitionRemoved.
func (s *RPCServer) Close() error {
	err := s.transport.Close()
	return errors.Join(err, s.closePartitions())
}

func (s *RPCServer) closePartitions() error {
	var errs []error
	s.partitions.Range(func(id uint64, st store.IPartitionStore) bool {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("partition %d: %w", id, err))
		}
		s.partitions.Delete(id)
		s.router.Remove(id)
		return true
	})
	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return errors.Join(errs...)
}
