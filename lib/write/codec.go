package write

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
	"github.com/ValentinKolb/pKV/lib/partition"
)

const (
	codecVersion byte = 1
	// HeaderSize is the encoded size of a Header plus the op count.
	HeaderSize = 1 + 8*5 + 4
)

// Header describes what a write command was built against.
type Header struct {
	PartitionID uint64
	Epoch       partition.Epoch
	Term        uint64
	ReplicaID   uint64
}

// SameBatch reports whether commands with the two headers may be merged into one log entry.
// The replica id is not compared, it only records which replica accepted the request.
func (h Header) SameBatch(other Header) bool {
	return h.PartitionID == other.PartitionID && h.Epoch == other.Epoch && h.Term == other.Term
}

func (h Header) String() string {
	return fmt.Sprintf("{partition: %d, epoch: %s, term: %d, replica: %d}", h.PartitionID, h.Epoch, h.Term, h.ReplicaID)
}

func (h Header) appendTo(buf []byte) []byte {
	buf = append(buf, codecVersion)
	buf = binary.BigEndian.AppendUint64(buf, h.PartitionID)
	buf = binary.BigEndian.AppendUint64(buf, h.Epoch.ConfVer)
	buf = binary.BigEndian.AppendUint64(buf, h.Epoch.Version)
	buf = binary.BigEndian.AppendUint64(buf, h.Term)
	return binary.BigEndian.AppendUint64(buf, h.ReplicaID)
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// Encode serializes a header and ops into a log entry payload.
func Encode(h Header, ops []Op) []byte {
	size := HeaderSize
	for _, op := range ops {
		size += op.SizeBytes()
	}
	buf := make([]byte, 0, size)
	buf = h.appendTo(buf)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(ops)))
	for _, op := range ops {
		buf = appendOp(buf, op)
	}
	return buf
}

func appendOp(buf []byte, op Op) []byte {
	buf = append(buf, byte(op.Type), byte(op.CF))
	switch op.Type {
	case OpTPut:
		buf = appendBytes(buf, op.Key)
		buf = appendBytes(buf, op.Value)
	case OpTDelete:
		buf = appendBytes(buf, op.Key)
	case OpTDeleteRange:
		buf = appendBytes(buf, op.Key)
		buf = appendBytes(buf, op.EndKey)
	case OpTIngest:
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(op.Files)))
		for _, f := range op.Files {
			buf = binary.BigEndian.AppendUint32(buf, uint32(f.SizeBytes()))
			buf = f.AppendBinary(buf)
		}
	}
	return buf
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// --------------------------------------------------------------------------
// Decoding
// --------------------------------------------------------------------------

// DecodeHeader extracts only the header of an encoded command.
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("data too short for header: %d bytes", len(data))
	}
	if data[0] != codecVersion {
		return h, fmt.Errorf("unknown codec version %d", data[0])
	}
	h.PartitionID = binary.BigEndian.Uint64(data[1:9])
	h.Epoch.ConfVer = binary.BigEndian.Uint64(data[9:17])
	h.Epoch.Version = binary.BigEndian.Uint64(data[17:25])
	h.Term = binary.BigEndian.Uint64(data[25:33])
	h.ReplicaID = binary.BigEndian.Uint64(data[33:41])
	return h, nil
}

// Decode extracts header and ops from an encoded command. Keys and values of the returned ops
// alias data, descriptors are copied.
func Decode(data []byte) (Header, []Op, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return h, nil, err
	}
	count := int(binary.BigEndian.Uint32(data[41:45]))

	d := decoder{data: data, offset: HeaderSize}
	// a corrupt count must not cause a huge allocation, every op needs at least 2 bytes
	ops := make([]Op, 0, min(count, (len(data)-HeaderSize)/2))
	for i := 0; i < count; i++ {
		op, err := d.op()
		if err != nil {
			return h, nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	if d.offset != len(data) {
		return h, nil, fmt.Errorf("%d trailing bytes after %d ops", len(data)-d.offset, count)
	}
	return h, ops, nil
}

type decoder struct {
	data   []byte
	offset int
}

func (d *decoder) op() (Op, error) {
	if d.offset+2 > len(d.data) {
		return Op{}, fmt.Errorf("data too short for op tag")
	}
	op := Op{Type: OpType(d.data[d.offset]), CF: db.CF(d.data[d.offset+1])}
	d.offset += 2

	var err error
	switch op.Type {
	case OpTPut:
		if op.Key, err = d.bytes(); err != nil {
			return op, err
		}
		op.Value, err = d.bytes()
	case OpTDelete:
		op.Key, err = d.bytes()
	case OpTDeleteRange:
		if op.Key, err = d.bytes(); err != nil {
			return op, err
		}
		op.EndKey, err = d.bytes()
	case OpTIngest:
		op.Files, err = d.files()
	default:
		return op, fmt.Errorf("unknown op type %d", op.Type)
	}
	if err != nil {
		return op, err
	}
	if op.Type != OpTIngest && !op.CF.IsData() {
		return op, fmt.Errorf("invalid column family %s", op.CF)
	}
	return op, nil
}

func (d *decoder) uint32() (int, error) {
	if d.offset+4 > len(d.data) {
		return 0, fmt.Errorf("data too short for length")
	}
	n := int(binary.BigEndian.Uint32(d.data[d.offset:]))
	d.offset += 4
	return n, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.uint32()
	if err != nil {
		return nil, err
	}
	if d.offset+n > len(d.data) {
		return nil, fmt.Errorf("data too short for field of length %d", n)
	}
	b := d.data[d.offset : d.offset+n : d.offset+n]
	d.offset += n
	return b, nil
}

func (d *decoder) files() ([]ingest.Descriptor, error) {
	count, err := d.uint32()
	if err != nil {
		return nil, err
	}
	files := make([]ingest.Descriptor, 0, min(count, len(d.data)-d.offset))
	for i := 0; i < count; i++ {
		raw, err := d.bytes()
		if err != nil {
			return nil, err
		}
		var desc ingest.Descriptor
		if err := desc.UnmarshalBinary(raw); err != nil {
			return nil, err
		}
		files = append(files, desc)
	}
	return files, nil
}
