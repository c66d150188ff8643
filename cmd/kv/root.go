package kv

import (
	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/store"
	"github.com/ValentinKolb/pKV/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcStore store.IStore
	cf       db.CF

	// KeyValueCommands represents the KV command group
	KeyValueCommands = &cobra.Command{
		Use:               "kv",
		Short:             "Perform key-value store operations",
		PersistentPreRunE: setupKVClient,
	}
)

func init() {
	cobra.OnInitialize(util.InitEnv)

	util.SetupRPCClientFlags(KeyValueCommands)

	KeyValueCommands.AddCommand(putCmd)
	KeyValueCommands.AddCommand(getCmd)
	KeyValueCommands.AddCommand(delCmd)
	KeyValueCommands.AddCommand(delRangeCmd)
	KeyValueCommands.AddCommand(writeCmd)
	KeyValueCommands.AddCommand(infoCmd)
	KeyValueCommands.AddCommand(perfTestCmd)
}

// setupKVClient initializes the RPC store client
func setupKVClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	if cf, err = util.GetCF(); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	rpcStore, err = client.NewRPCStore(
		util.GetPartitionID(),
		*util.GetClientConfig(),
		util.GetClientTransport(),
		s,
	)
	return err
}
