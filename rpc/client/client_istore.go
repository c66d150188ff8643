package client

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/lib/write"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/ValentinKolb/pKV/rpc/transport"
)

// NewRPCStore creates a new RPC store
// The function takes a partition id, a config, a transport and a serializer as parameters.
// With transport.AnyPartition the server routes every request by its key.
// It returns a store.IStore and an error
func NewRPCStore(
	partitionID uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (store.IStore, error) {

	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &rpcStore{
		rpcClientAdapter{
			partitionID: partitionID,
			config:      config,
			transport:   transport,
			serializer:  serializer,
		},
	}, nil
}

type rpcStore struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see the store package in interface.go)
// --------------------------------------------------------------------------

func (s *rpcStore) Put(cf db.CF, key, value []byte) error {
	_, err := s.invoke(common.NewPutRequest(cf, key, value))
	return err
}

func (s *rpcStore) Delete(cf db.CF, key []byte) error {
	_, err := s.invoke(common.NewDeleteRequest(cf, key))
	return err
}

func (s *rpcStore) DeleteRange(cf db.CF, start, end []byte) error {
	_, err := s.invoke(common.NewDeleteRangeRequest(cf, start, end))
	return err
}

// Ingest only works if the files are in the import directory of the server, the client
// does not upload them.
func (s *rpcStore) Ingest(files ...ingest.Descriptor) error {
	_, err := s.Write(write.Ingest(files...))
	return err
}

func (s *rpcStore) Write(ops ...write.Op) (write.Result, error) {
	resp, err := s.invoke(common.NewWriteRequest(ops))
	if err != nil {
		return write.Result{}, err
	}
	return write.Result{Index: resp.Index}, nil
}

func (s *rpcStore) Get(cf db.CF, key []byte) ([]byte, bool, error) {
	resp, err := s.invoke(common.NewGetRequest(cf, key))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (s *rpcStore) GetInfo() (store.Info, error) {
	if s.partitionID == transport.AnyPartition {
		return store.Info{}, fmt.Errorf("GetInfo needs a client for a fixed partition")
	}
	resp, err := s.invoke(common.NewInfoRequest())
	if err != nil {
		return store.Info{}, err
	}
	var info store.Info
	if err := json.Unmarshal(resp.Meta, &info); err != nil {
		return store.Info{}, fmt.Errorf("invalid info response: %w", err)
	}
	return info, nil
}
