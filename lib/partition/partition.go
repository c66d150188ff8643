package partition

import (
	"bytes"
	"fmt"
)

// Epoch identifies a generation of a partition. ConfVer changes with membership, Version with boundaries.
type Epoch struct {
	ConfVer uint64 `json:"conf_ver"`
	Version uint64 `json:"version"`
}

func (e Epoch) String() string {
	return fmt.Sprintf("{conf_ver: %d, version: %d}", e.ConfVer, e.Version)
}

// Meta describes a partition: its id, its epoch and the half open key range [StartKey, EndKey) it owns.
// An empty EndKey means the range is unbounded.
type Meta struct {
	ID       uint64 `json:"id"`
	Epoch    Epoch  `json:"epoch"`
	StartKey []byte `json:"start_key"`
	EndKey   []byte `json:"end_key"`
}

// Clone returns a deep copy, the key slices are not shared.
func (m Meta) Clone() Meta {
	return Meta{
		ID:       m.ID,
		Epoch:    m.Epoch,
		StartKey: bytes.Clone(m.StartKey),
		EndKey:   bytes.Clone(m.EndKey),
	}
}

// Contains reports whether key lies inside the partition range.
func (m Meta) Contains(key []byte) bool {
	return bytes.Compare(key, m.StartKey) >= 0 && (len(m.EndKey) == 0 || bytes.Compare(key, m.EndKey) < 0)
}

func (m Meta) String() string {
	return fmt.Sprintf("partition %d %s [%q, %q)", m.ID, m.Epoch, m.StartKey, m.EndKey)
}

// CheckKeyInRange returns a RetCKeyNotInRange error if key is outside the partition range.
func CheckKeyInRange(key []byte, m Meta) error {
	if m.Contains(key) {
		return nil
	}
	return Errorf(RetCKeyNotInRange, m.ID, "key %q is not in range [%q, %q)", key, m.StartKey, m.EndKey)
}

// CheckRangeInRange checks that the inclusive range [start, end] lies inside the partition.
// An empty end means "up to the end of the partition" and is only allowed for unbounded partitions.
func CheckRangeInRange(start, end []byte, m Meta) error {
	if err := CheckKeyInRange(start, m); err != nil {
		return err
	}
	if len(end) == 0 {
		if len(m.EndKey) != 0 {
			return Errorf(RetCKeyNotInRange, m.ID, "unbounded range end exceeds partition end %q", m.EndKey)
		}
		return nil
	}
	if bytes.Compare(end, start) < 0 {
		return Errorf(RetCInvalidOperation, m.ID, "range end %q is before start %q", end, start)
	}
	return CheckKeyInRange(end, m)
}

// CompareEpoch checks a request epoch against the current one. Only the components selected by
// checkConfVer and checkVer are compared. A request epoch that differs in a checked component is stale.
func CompareEpoch(request, current Epoch, checkConfVer, checkVer bool, partitionID uint64) error {
	if checkConfVer && request.ConfVer != current.ConfVer {
		return Errorf(RetCEpochNotMatch, partitionID, "conf version mismatch: request %d, current %d", request.ConfVer, current.ConfVer)
	}
	if checkVer && request.Version != current.Version {
		return Errorf(RetCEpochNotMatch, partitionID, "version mismatch: request %d, current %d", request.Version, current.Version)
	}
	return nil
}
