// Package rpc is the remote interface of pKV. It exposes the partitions hosted by a
// node to clients on other machines.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, server and client configuration and logging.
//
//   - transport: Transport abstraction, the HTTP implementation routes with chi and
//     exposes Prometheus metrics.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB).
//
//   - client: store.IStore implementation forwarding to a server.
//
//   - server: Hosts local and replicated partitions and dispatches requests to them.
package rpc
