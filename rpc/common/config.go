package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/pKV/lib/apply"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/lib/peer"
	"github.com/lni/dragonboat/v4/config"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server config)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to the Dragonboat config of one partition
func (c *ServerConfig) ToDragonboatConfig(partitionID uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            partitionID,
		ElectionRTT:        electionRTTFactor,
		HeartbeatRTT:       heartbeatRTTFactor,
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// helper functions for the write pipeline
// --------------------------------------------------------------------------

// ToPeerConfig returns the proposal side configuration
func (c *ServerConfig) ToPeerConfig() peer.Config {
	cfg := peer.DefaultConfig()
	cfg.ReplicaID = c.ReplicaID
	if c.RaftEntryMaxSize > 0 {
		cfg.RaftEntryMaxSize = c.RaftEntryMaxSize
	}
	if c.ProposalSizeRatio > 0 {
		cfg.ProposalSizeRatio = c.ProposalSizeRatio
	}
	return cfg
}

// ToApplyConfig returns the apply side configuration
func (c *ServerConfig) ToApplyConfig() apply.Config {
	return apply.Config{FlushThresholdBytes: c.ApplyFlushThresholdBytes}
}

// Timeout returns the request timeout
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerPartitionType string

const (
	PartitionTypeLocal  ServerPartitionType = "local"
	PartitionTypeRemote ServerPartitionType = "remote"
)

// ParsePartitionType converts a string to a partition type
func ParsePartitionType(s string) (ServerPartitionType, error) {
	switch t := ServerPartitionType(strings.ToLower(s)); t {
	case PartitionTypeLocal, PartitionTypeRemote:
		return t, nil
	default:
		return "", fmt.Errorf("invalid partition type %q, must be one of local, remote", s)
	}
}

type ServerPartition struct {
	// ID is the id of the partition, for remote partitions also the Dragonboat shard id
	ID uint64
	// Type decides whether the partition is replicated
	Type ServerPartitionType
	// StartKey and EndKey bound the key range [StartKey, EndKey) of the partition (empty EndKey = unbounded)
	StartKey string
	EndKey   string
}

// Meta returns the initial metadata of the partition
func (p ServerPartition) Meta() partition.Meta {
	m := partition.Meta{
		ID:       p.ID,
		Epoch:    partition.Epoch{ConfVer: 1, Version: 1},
		StartKey: []byte(p.StartKey),
	}
	if p.EndKey != "" {
		m.EndKey = []byte(p.EndKey)
	}
	return m
}

// ParseServerPartition parses the flag form "<id>:<type>[:<start>[:<end>]]"
func ParseServerPartition(s string) (ServerPartition, error) {
	parts := strings.SplitN(s, ":", 4)
	if len(parts) < 2 {
		return ServerPartition{}, fmt.Errorf("invalid partition %q, expected <id>:<type>[:<start>[:<end>]]", s)
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || id == 0 {
		return ServerPartition{}, fmt.Errorf("invalid partition id %q", parts[0])
	}
	t, err := ParsePartitionType(parts[1])
	if err != nil {
		return ServerPartition{}, err
	}
	p := ServerPartition{ID: id, Type: t}
	if len(parts) > 2 {
		p.StartKey = parts[2]
	}
	if len(parts) > 3 {
		p.EndKey = parts[3]
	}
	if p.EndKey != "" && p.EndKey <= p.StartKey {
		return ServerPartition{}, fmt.Errorf("partition %d: end key %q must be after start key %q", id, p.EndKey, p.StartKey)
	}
	return p, nil
}

// ServerConfig holds all configuration parameters of a pKV server.
type ServerConfig struct {
	// partitions hosted by this server
	Partitions []ServerPartition

	// Dragonboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// write pipeline parameters
	RaftEntryMaxSize         int
	ProposalSizeRatio        float64
	ApplyFlushThresholdBytes int
	SharedImportDir          bool

	// store parameters
	TimeoutSecond int64

	// HTTP api settings
	Endpoint string

	// Logging configuration
	LogLevel string
}

// HasRemotePartition checks if the configuration contains any remote partitions
func (c *ServerConfig) HasRemotePartition() bool {
	for _, p := range c.Partitions {
		if p.Type == PartitionTypeRemote {
			return true
		}
	}
	return false
}

// Validate checks that partition ids are unique and key ranges do not overlap
func (c *ServerConfig) Validate() error {
	ps := append([]ServerPartition(nil), c.Partitions...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].StartKey < ps[j].StartKey })
	ids := make(map[uint64]bool, len(ps))
	for i, p := range ps {
		if ids[p.ID] {
			return fmt.Errorf("partition %d is configured twice", p.ID)
		}
		ids[p.ID] = true
		if i > 0 {
			prev := ps[i-1]
			if prev.EndKey == "" || prev.EndKey > p.StartKey {
				return fmt.Errorf("partitions %d and %d overlap", prev.ID, p.ID)
			}
		}
	}
	if c.HasRemotePartition() {
		if _, ok := c.ClusterMembers[c.ReplicaID]; !ok {
			return fmt.Errorf("replica %d is not a cluster member", c.ReplicaID)
		}
	}
	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Write pipeline
	peerCfg := c.ToPeerConfig()
	addSection("Write Pipeline")
	addField("Raft Entry Max Size", fmt.Sprintf("%d bytes", peerCfg.RaftEntryMaxSize))
	addField("Proposal Size Ratio", fmt.Sprintf("%.2f", peerCfg.ProposalSizeRatio))
	addField("Apply Flush Threshold", fmt.Sprintf("%d bytes", c.ApplyFlushThresholdBytes))
	addField("Shared Import Dir", fmt.Sprintf("%t", c.SharedImportDir))
	addField("Data Directory", c.DataDir)

	// Partitions
	addSection("Partitions")
	for _, p := range c.Partitions {
		end := p.EndKey
		if end == "" {
			end = "+inf"
		}
		addField(strconv.FormatUint(p.ID, 10), fmt.Sprintf("%s [%q, %s)", p.Type, p.StartKey, end))
	}

	if c.HasRemotePartition() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

		// Cluster members
		addSection("Cluster")
		sb.WriteString("  Initial Cluster Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
