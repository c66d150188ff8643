// Package client implements the RPC client of pKV. NewRPCStore returns a store.IStore
// that forwards every operation to a server through the configured transport.
//
// A client is bound to a partition id. With transport.AnyPartition the server routes
// each request to the partition owning its key, which is the usual choice for clients
// that do not track partition boundaries themselves.
//
// Errors reported by the server keep their partition.RetCode, so callers can use
// partition.IsRetryable and partition.CodeOf on them.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:     []string{"localhost:8080"},
//	  TimeoutSecond: 5,
//	  RetryCount:    3,
//	}
//
//	kv, _ := client.NewRPCStore(transport.AnyPartition, config,
//	  http.NewHttpClientTransport(), serializer.NewBinarySerializer())
//
//	_ = kv.Put(db.CFDefault, []byte("mykey"), []byte("myvalue"))
//	value, exists, _ := kv.Get(db.CFDefault, []byte("mykey"))
//
// Thread Safety:
//
//	All client implementations are thread-safe and can be used concurrently from
//	multiple goroutines without additional synchronization.
package client
