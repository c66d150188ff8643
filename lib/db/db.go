package db

import "fmt"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplPebble Implementation = "pebble"
)

// CF names a column family. Column families are independent key namespaces inside one engine.
type CF uint8

const (
	CFDefault CF = iota // user values
	CFLock              // transaction locks
	CFWrite             // commit records
	CFRaft              // partition local metadata, never written by clients

	// NumDataCFs is the number of column families clients may write to (CFDefault to CFWrite).
	NumDataCFs = int(CFRaft)
)

func (cf CF) String() string {
	switch cf {
	case CFDefault:
		return "default"
	case CFLock:
		return "lock"
	case CFWrite:
		return "write"
	case CFRaft:
		return "raft"
	default:
		return fmt.Sprintf("cf(%d)", uint8(cf))
	}
}

// IsData reports whether clients may write to the column family.
func (cf CF) IsData() bool {
	return int(cf) < NumDataCFs
}

// DataOffset returns the position of a data column family in per-CF tables.
func (cf CF) DataOffset() int {
	return int(cf)
}

// ParseCF maps a column family name to its CF. The empty string is the default column family.
func ParseCF(name string) (CF, error) {
	switch name {
	case "", "default":
		return CFDefault, nil
	case "lock":
		return CFLock, nil
	case "write":
		return CFWrite, nil
	case "raft":
		return CFRaft, nil
	default:
		return 0, fmt.Errorf("unknown column family %q", name)
	}
}

// Feature represents engine features as bit flags
type Feature uint64

const (
	FeaturePut      Feature = 1 << iota // Support for Put operations
	FeatureGet                          // Support for Get operations
	FeatureDelete                       // Support for Delete operations
	FeatureBatch                        // Support for atomic write batches
	FeatureIngest                       // Support for atomic ingestion of external files
	FeatureScan                         // Support for ordered range scans
	FeatureSnapshot                     // Support for consistent point in time views
)

func (f Feature) String() string {
	switch f {
	case FeaturePut:
		return "Put"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureBatch:
		return "Batch"
	case FeatureIngest:
		return "Ingest"
	case FeatureScan:
		return "Scan"
	case FeatureSnapshot:
		return "Snapshot"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Engine Interface
// --------------------------------------------------------------------------

// KVEngine is the local persistent storage of a node. Keys passed to it are already translated to the
// data key encoding (see DataKey); the engine only separates column families.
// Implementations must be safe for concurrent use.
type KVEngine interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put writes a single key outside any batch.
	Put(cf CF, key, value []byte) (err error)

	// Delete removes a single key outside any batch.
	Delete(cf CF, key []byte) (err error)

	// NewWriteBatch returns an empty batch. Nothing staged in it is visible until Write succeeds.
	NewWriteBatch() WriteBatch

	// IngestExternalFiles atomically adds the given sorted string tables to the engine.
	// Either all files become visible or none does.
	IngestExternalFiles(paths []string) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(cf CF, key []byte) (value []byte, loaded bool, err error)

	// Scan calls fn for every key in [start, end) of the column family in ascending order.
	// An empty end scans to the end of the column family. Returning false from fn stops the scan.
	// The slices passed to fn are only valid during the call.
	Scan(cf CF, start, end []byte, fn func(key, value []byte) bool) (err error)

	// NewSnapshot returns a consistent view of the engine at the time of the call.
	// Writes committed afterwards are not visible through it. The snapshot must be closed.
	NewSnapshot() (snap Snapshot)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the engine supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the engine.
	GetInfo() (info DatabaseInfo)

	// Close closes the engine.
	Close() (err error)
}

// Snapshot is a read only point in time view of an engine. It is safe for concurrent use.
type Snapshot interface {
	Get(cf CF, key []byte) (value []byte, loaded bool, err error)
	Scan(cf CF, start, end []byte, fn func(key, value []byte) bool) (err error)
	Close() (err error)
}

// WriteBatch stages writes for one atomic commit. A batch is used by a single goroutine.
type WriteBatch interface {
	Put(cf CF, key, value []byte) (err error)
	Delete(cf CF, key []byte) (err error)

	// Count returns the number of staged operations.
	Count() int

	// DataSize returns the encoded size of the staged operations in bytes.
	DataSize() int

	// Write commits the staged operations durably and atomically.
	Write() (err error)

	// Close releases the batch, staged operations that were not written are discarded.
	Close() (err error)
}
