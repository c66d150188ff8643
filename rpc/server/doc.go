// Package server implements the RPC server of pKV. A server hosts a set of partitions,
// each with its own store, and routes requests to them.
//
// Key Components:
//
//   - IRPCServerAdapter: Interface defining the contract for all server adapters,
//     with the Handle method that processes incoming requests against a store.IStore.
//
//   - NewIStoreServerAdapter: Adapter translating RPC requests to store.IStore calls.
//     Every write goes through the write pipeline of the partition, the response carries
//     the log index it was applied at.
//
//   - NewRPCServer: Creates a server with the given transport and serializer.
//
// Requests name a partition id. Id 0 (transport.AnyPartition) lets the server pick the
// partition owning the key of the request, the key index is a partition.Router.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Partitions: []common.ServerPartition{
//	    {ID: 1, Type: common.PartitionTypeLocal, EndKey: "m"},
//	    {ID: 2, Type: common.PartitionTypeRemote, StartKey: "m"},
//	  },
//	  Endpoint: "0.0.0.0:8080",
//	  TimeoutSecond: 5,
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  http.NewHttpServerTransport(),
//	  serializer.NewBinarySerializer(),
//	)
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Partition types:
//
//   - PartitionTypeLocal: proposals are committed right away and applied on the node,
//     suitable for single-node deployments.
//
//   - PartitionTypeRemote: proposals are replicated through a Dragonboat shard with the
//     partition id. RTTMillisecond, SnapshotEntries, CompactionOverhead, DataDir, ReplicaID
//     and ClusterMembers must be configured.
//
// Thread Safety:
//
//	The server handles concurrent requests. Serve must be called only once.
package server
