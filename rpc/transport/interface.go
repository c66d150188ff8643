package transport

import (
	"github.com/ValentinKolb/pKV/rpc/common"
)

// AnyPartition addresses the partition owning the key of the request instead of a fixed partition.
const AnyPartition uint64 = 0

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a partition id (or AnyPartition) and a request as parameters and returns a response
type ServerHandleFunc func(partitionID uint64, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
// It must accept a ServerConfig as a parameter
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen starts the transport layer and listens for incoming requests
	// It blocks until the transport is closed
	Listen(config common.ServerConfig) error
	// Close stops listening, in-flight requests are allowed to complete
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send sends a request to the server and returns the response
	Send(partitionID uint64, req []byte) (resp []byte, err error)
	// Close closes the transport connection
	Close() error
}
