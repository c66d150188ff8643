package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	cmdUtil "github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/ValentinKolb/pKV/lib/util"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/server"
	"github.com/ValentinKolb/pKV/rpc/transport/http"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the pKV server",
		Long:    `Start the pKV server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is PKV_<flag> (e.g. PKV_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitEnv)

	defaults := peer.DefaultConfig()

	key := "partitions"
	ServeCmd.PersistentFlags().String(key, "1:local", cmdUtil.WrapString("Comma-separated list of partitions to serve. Format: ID:TYPE[:START[:END]] where TYPE is local or remote. START and END bound the key range of the partition, an empty END means unbounded (e.g. 1:remote::m,2:remote:m)"))

	key = "rtt-millisecond"
	ServeCmd.PersistentFlags().Int(key, 100, cmdUtil.WrapString("(remote partitions) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. \nOther raft configuration parameters (ElectionRTT=value/10, HeartbeatRTT=value/100) are derived from this value"))

	key = "snapshot-entries"
	ServeCmd.PersistentFlags().Int(key, 1000, cmdUtil.WrapString("(remote partitions) SnapshotEntries defines how often the state machine should be snapshotted automatically. It is defined in terms of the number of applied Raft log entries. 0 disables automatic snapshotting (not recommended)"))

	key = "compaction-overhead"
	ServeCmd.PersistentFlags().Int(key, 500, cmdUtil.WrapString("(remote partitions) CompactionOverhead defines how many log entries are kept after a snapshot was taken"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", cmdUtil.WrapString("DataDir is the directory used for the partition databases, the import directory and the raft data"))

	key = "replica-id"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(remote partitions) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("(remote partitions) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "raft-entry-max-size"
	ServeCmd.PersistentFlags().Int(key, defaults.RaftEntryMaxSize, cmdUtil.WrapString("Largest encoded write command in bytes. Larger writes are rejected before they are proposed"))

	key = "proposal-size-ratio"
	ServeCmd.PersistentFlags().Float64(key, defaults.ProposalSizeRatio, cmdUtil.WrapString("Share of raft-entry-max-size that may be batched into one proposal before it is flushed"))

	key = "apply-flush-threshold"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Size in bytes at which the apply engine commits its staging buffer early. 0 uses the built in default"))

	key = "shared-import-dir"
	ServeCmd.PersistentFlags().Bool(key, false, cmdUtil.WrapString("(remote partitions) Set if all replicas see the same import directory, which is required for file ingestion on remote partitions"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for writes and reads"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// parse partitions
	serveCmdConfig.Partitions = nil
	for _, raw := range strings.Split(viper.GetString("partitions"), ",") {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		p, err := common.ParseServerPartition(raw)
		if err != nil {
			return err
		}
		serveCmdConfig.Partitions = append(serveCmdConfig.Partitions, p)
	}
	if len(serveCmdConfig.Partitions) == 0 {
		return fmt.Errorf("at least one partition is required")
	}

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.RaftEntryMaxSize = viper.GetInt("raft-entry-max-size")
	serveCmdConfig.ProposalSizeRatio = viper.GetFloat64("proposal-size-ratio")
	serveCmdConfig.ApplyFlushThresholdBytes = viper.GetInt("apply-flush-threshold")
	serveCmdConfig.SharedImportDir = viper.GetBool("shared-import-dir")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	// parse replica id
	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = util.HashString(id, 0)
	} else if serveCmdConfig.HasRemotePartition() {
		return fmt.Errorf("ReplicaId is required for remote partitions")
	}

	// parse cluster members
	if clusterMembers := viper.GetString("cluster-members"); clusterMembers != "" {
		serveCmdConfig.ClusterMembers = make(map[uint64]string)
		for _, member := range strings.Split(clusterMembers, ",") {
			parts := strings.Split(member, "=")
			if len(parts) != 2 {
				return fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
			}
			serveCmdConfig.ClusterMembers[util.HashString(parts[0], 0)] = parts[1]
		}
	} else if serveCmdConfig.HasRemotePartition() {
		return fmt.Errorf("ClusterMembers is required for remote partitions")
	}

	return serveCmdConfig.Validate()
}

// run starts the pKV server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		http.NewHttpServerTransport(),
		s,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- serv.Serve() }()

	select {
	case err = <-done:
		// the transport stopped on its own, release the partitions
		return errors.Join(err, serv.Close())
	case <-ctx.Done():
		closeErr := serv.Close()
		return errors.Join(<-done, closeErr)
	}
}
