package write

import (
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/ingest"
)

// OpType defines the possible mutations of a write command.
type OpType uint8

const (
	OpTPut         OpType = iota + 1 // Insert or update a key.
	OpTDelete                        // Delete a key.
	OpTDeleteRange                   // Delete all keys in [Key, EndKey).
	OpTIngest                        // Ingest external files.
)

func (t OpType) String() string {
	switch t {
	case OpTPut:
		return "Put"
	case OpTDelete:
		return "Delete"
	case OpTDeleteRange:
		return "DeleteRange"
	case OpTIngest:
		return "Ingest"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// Op is a single mutation. Which fields are set depends on Type:
// Put uses CF, Key and Value; Delete uses CF and Key; DeleteRange uses CF, Key and EndKey;
// Ingest uses Files.
type Op struct {
	Type   OpType
	CF     db.CF
	Key    []byte
	Value  []byte
	EndKey []byte
	Files  []ingest.Descriptor
}

// Put creates a put op.
func Put(cf db.CF, key, value []byte) Op {
	return Op{Type: OpTPut, CF: cf, Key: key, Value: value}
}

// Delete creates a delete op.
func Delete(cf db.CF, key []byte) Op {
	return Op{Type: OpTDelete, CF: cf, Key: key}
}

// DeleteRange creates a delete range op for [start, end).
func DeleteRange(cf db.CF, start, end []byte) Op {
	return Op{Type: OpTDeleteRange, CF: cf, Key: start, EndKey: end}
}

// Ingest creates an ingest op.
func Ingest(files ...ingest.Descriptor) Op {
	return Op{Type: OpTIngest, Files: files}
}

// SizeBytes returns the exact number of bytes needed to encode this op.
func (op Op) SizeBytes() int {
	switch op.Type {
	case OpTPut:
		return 2 + 4 + len(op.Key) + 4 + len(op.Value)
	case OpTDelete:
		return 2 + 4 + len(op.Key)
	case OpTDeleteRange:
		return 2 + 4 + len(op.Key) + 4 + len(op.EndKey)
	case OpTIngest:
		size := 2 + 4
		for _, f := range op.Files {
			size += 4 + f.SizeBytes()
		}
		return size
	default:
		return 0
	}
}

func (op Op) String() string {
	switch op.Type {
	case OpTPut:
		return fmt.Sprintf("Put(%s, %q, %d bytes)", op.CF, op.Key, len(op.Value))
	case OpTDelete:
		return fmt.Sprintf("Delete(%s, %q)", op.CF, op.Key)
	case OpTDeleteRange:
		return fmt.Sprintf("DeleteRange(%s, %q, %q)", op.CF, op.Key, op.EndKey)
	case OpTIngest:
		return fmt.Sprintf("Ingest(%d files)", len(op.Files))
	default:
		return op.Type.String()
	}
}
