package client

import (
	"fmt"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter is a struct that stores all data needed for an implementation of an RPC client
type rpcClientAdapter struct {
	partitionID uint64
	config      common.ClientConfig
	transport   transport.IRPCClientTransport
	serializer  serializer.IRPCSerializer
}

// invoke is a helper function used by all RPC clients to send requests
// It returns the response message or the error reported by the server. Partition errors keep
// their code, so partition.IsRetryable works on errors returned by a client.
// This method also checks if the type of the response is the expected type
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	// Send the request
	respBytes, err := a.transport.Send(a.partitionID, reqBytes)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("RPC client - invalid response: %w", err)
	}

	// Check if the response is an error response
	if err := resp.AsError(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("RPC client - Unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}
