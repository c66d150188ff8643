package ingest

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/google/uuid"
)

// Descriptor identifies an external file staged for ingestion and records what it must contain.
// Start and End are the smallest and largest user key in the file (both inclusive).
type Descriptor struct {
	UUID        uuid.UUID       `json:"uuid"`
	PartitionID uint64          `json:"partition_id"`
	Epoch       partition.Epoch `json:"epoch"`
	CF          db.CF           `json:"cf"`
	Start       []byte          `json:"start"`
	End         []byte          `json:"end"`
	Length      uint64          `json:"length"`
	Checksum    uint64          `json:"checksum"`
	NumEntries  uint64          `json:"num_entries"`
}

// FileName is the name of the file inside the import directory.
func (d Descriptor) FileName() string {
	return fmt.Sprintf("%s_%d_%d_%d_%s.sst", d.UUID, d.PartitionID, d.Epoch.ConfVer, d.Epoch.Version, d.CF)
}

// CheckForIngestion verifies that a descriptor targets the given partition in its current epoch and
// that its key range lies inside the partition.
func CheckForIngestion(d Descriptor, m partition.Meta) error {
	if d.PartitionID != m.ID {
		return partition.Errorf(partition.RetCInvalidOperation, m.ID,
			"file %s belongs to partition %d", d.UUID, d.PartitionID)
	}
	if err := partition.CompareEpoch(d.Epoch, m.Epoch, true, true, m.ID); err != nil {
		return err
	}
	if !d.CF.IsData() {
		return partition.Errorf(partition.RetCInvalidOperation, m.ID, "file %s targets non data column family %s", d.UUID, d.CF)
	}
	if len(d.End) == 0 {
		return partition.Errorf(partition.RetCInvalidOperation, m.ID, "file %s has no end key", d.UUID)
	}
	return partition.CheckRangeInRange(d.Start, d.End, m)
}

// --------------------------------------------------------------------------
// Binary Encoding
// --------------------------------------------------------------------------

// Layout: uuid(16) | partitionID(8) | confVer(8) | version(8) | cf(1) | length(8) | checksum(8) |
// numEntries(8) | startLen(4) | start | endLen(4) | end
const descriptorFixedSize = 16 + 8 + 8 + 8 + 1 + 8 + 8 + 8 + 4 + 4

// SizeBytes returns the encoded size of the descriptor.
func (d Descriptor) SizeBytes() int {
	return descriptorFixedSize + len(d.Start) + len(d.End)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d Descriptor) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(make([]byte, 0, d.SizeBytes())), nil
}

// AppendBinary appends the encoded descriptor to buf.
func (d Descriptor) AppendBinary(buf []byte) []byte {
	buf = append(buf, d.UUID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, d.PartitionID)
	buf = binary.BigEndian.AppendUint64(buf, d.Epoch.ConfVer)
	buf = binary.BigEndian.AppendUint64(buf, d.Epoch.Version)
	buf = append(buf, byte(d.CF))
	buf = binary.BigEndian.AppendUint64(buf, d.Length)
	buf = binary.BigEndian.AppendUint64(buf, d.Checksum)
	buf = binary.BigEndian.AppendUint64(buf, d.NumEntries)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(d.Start)))
	buf = append(buf, d.Start...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(d.End)))
	return append(buf, d.End...)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. The key slices are copied.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	if len(data) < descriptorFixedSize {
		return fmt.Errorf("data too short for descriptor: %d bytes", len(data))
	}
	offset := 0
	copy(d.UUID[:], data[offset:offset+16])
	offset += 16
	d.PartitionID = binary.BigEndian.Uint64(data[offset:])
	offset += 8
	d.Epoch.ConfVer = binary.BigEndian.Uint64(data[offset:])
	offset += 8
	d.Epoch.Version = binary.BigEndian.Uint64(data[offset:])
	offset += 8
	d.CF = db.CF(data[offset])
	offset++
	d.Length = binary.BigEndian.Uint64(data[offset:])
	offset += 8
	d.Checksum = binary.BigEndian.Uint64(data[offset:])
	offset += 8
	d.NumEntries = binary.BigEndian.Uint64(data[offset:])
	offset += 8

	startLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if offset+startLen+4 > len(data) {
		return fmt.Errorf("data too short for descriptor start key")
	}
	d.Start = append([]byte(nil), data[offset:offset+startLen]...)
	offset += startLen

	endLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if offset+endLen != len(data) {
		return fmt.Errorf("descriptor end key length %d does not match remaining %d bytes", endLen, len(data)-offset)
	}
	d.End = append([]byte(nil), data[offset:offset+endLen]...)
	return nil
}
