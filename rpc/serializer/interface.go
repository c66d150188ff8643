package serializer

import "github.com/ValentinKolb/pKV/rpc/common"

// IRPCSerializer converts Messages to and from the bytes carried by a transport.
// Client and server must use the same implementation.
type IRPCSerializer interface {
	// Serialize encodes msg. The returned slice is owned by the caller.
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes b into msg, replacing all previous content of msg.
	// Error codes and the encoded ops of write requests must survive unchanged.
	Deserialize(b []byte, msg *common.Message) error
}
