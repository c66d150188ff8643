// Package transport defines the interfaces for RPC communication in the partitioned
// key-value store. Requests are addressed to a partition id, AnyPartition lets the
// server pick the partition owning the key of the request.
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to the registered handler.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
package transport
