package server

import (
	"fmt"

	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/ValentinKolb/pKV/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, store store.IStore) *common.Message {
	// Check for nil store
	if store == nil {
		return common.NewErrorResponse(fmt.Errorf("handler: store is nil"))
	}

	// Handle different message types. All writes go through Write so the response carries the
	// log index the command was applied at.
	switch req.MsgType {
	case common.MsgTKVPut:
		res, err := store.Write(write.Put(req.CF, req.Key, req.Value))
		return common.NewWriteResponse(req.MsgType, res, err)
	case common.MsgTKVDelete:
		res, err := store.Write(write.Delete(req.CF, req.Key))
		return common.NewWriteResponse(req.MsgType, res, err)
	case common.MsgTKVDeleteRange:
		res, err := store.Write(write.DeleteRange(req.CF, req.Key, req.EndKey))
		return common.NewWriteResponse(req.MsgType, res, err)
	case common.MsgTKVWrite:
		ops, err := req.Ops()
		if err != nil {
			return common.NewWriteResponse(req.MsgType, write.Result{},
				partition.NewError(partition.RetCInvalidOperation, 0, err.Error()))
		}
		res, err := store.Write(ops...)
		return common.NewWriteResponse(req.MsgType, res, err)
	case common.MsgTKVGet:
		val, ok, err := store.Get(req.CF, req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVInfo:
		info, err := store.GetInfo()
		return common.NewInfoResponse(info, err)
	default:
		return common.NewErrorResponse(
			fmt.Errorf("RPC IStoreAdapter - Unsuported message type: %s", req.MsgType),
		)
	}
}
