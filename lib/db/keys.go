package db

import (
	"encoding/binary"
	"fmt"
)

// --------------------------------------------------------------------------
// Key Encoding
// --------------------------------------------------------------------------

const (
	// DataPrefix is prepended to every user key so that data keys sort after local metadata keys.
	DataPrefix byte = 'z'
	// LocalPrefix starts every partition local metadata key.
	LocalPrefix byte = 0x01

	modificationIndexSuffix byte = 'm'
	appliedIndexSuffix      byte = 'a'
)

// DataKey translates a user key to its data key. buf is reused if it has enough capacity.
func DataKey(key, buf []byte) []byte {
	buf = append(buf[:0], DataPrefix)
	return append(buf, key...)
}

// OriginKey strips the data prefix from a data key.
func OriginKey(dataKey []byte) ([]byte, error) {
	if len(dataKey) == 0 || dataKey[0] != DataPrefix {
		return nil, fmt.Errorf("invalid data key %q", dataKey)
	}
	return dataKey[1:], nil
}

// DataEndKey returns the exclusive data key bound for a user end key. An empty end key maps to the
// first key past every data key.
func DataEndKey(end []byte) []byte {
	if len(end) == 0 {
		return []byte{DataPrefix + 1}
	}
	return DataKey(end, nil)
}

// EngineKey prefixes a key with its column family. This is the key layout used inside the engine and
// inside sorted string tables handed to IngestExternalFiles.
func EngineKey(cf CF, key, buf []byte) []byte {
	buf = append(buf[:0], byte(cf))
	return append(buf, key...)
}

// SplitEngineKey is the inverse of EngineKey.
func SplitEngineKey(engineKey []byte) (CF, []byte, error) {
	if len(engineKey) == 0 {
		return 0, nil, fmt.Errorf("empty engine key")
	}
	return CF(engineKey[0]), engineKey[1:], nil
}

// ModificationIndexKey is the CFRaft key holding the modification index of a data column family.
func ModificationIndexKey(partitionID uint64, cf CF) []byte {
	key := localKey(partitionID, modificationIndexSuffix)
	return append(key, byte(cf))
}

// AppliedIndexKey is the CFRaft key holding the last applied log index and term of a partition.
func AppliedIndexKey(partitionID uint64) []byte {
	return localKey(partitionID, appliedIndexSuffix)
}

func localKey(partitionID uint64, suffix byte) []byte {
	key := make([]byte, 0, 11)
	key = append(key, LocalPrefix)
	key = binary.BigEndian.AppendUint64(key, partitionID)
	return append(key, suffix)
}

// EncodeUint64 and DecodeUint64 store indexes in CFRaft.
func EncodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid uint64 encoding of length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
