package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/pKV/cmd/kv"
	"github.com/ValentinKolb/pKV/cmd/serve"
	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.1.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "pkv",
		Short: "partitioned key-value store",
		Long: fmt.Sprintf(`pKV (v%s)

A partitioned, replicated key-value store written in Go. Every partition
owns a key range and replicates its writes with RAFT consensus.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pKV v%s\n", Version)
		},
	}
)

func init() {
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(versionCmd)

	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
