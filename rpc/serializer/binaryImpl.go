package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/ValentinKolb/pKV/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
//
// Layout: msgType(1) | flags(2) | [cf(1)] | [len(4) key] | [len(4) endKey] | [len(4) value] |
// [index(8)] | [code(8)] | [len(4) err] | [len(4) meta]
//
// Ok is stored as a flag bit only.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasCF     uint16 = 1 << 0
	hasKey    uint16 = 1 << 1
	hasEndKey uint16 = 1 << 2
	hasValue  uint16 = 1 << 3
	hasIndex  uint16 = 1 << 4
	isOk      uint16 = 1 << 5
	hasCode   uint16 = 1 << 6
	hasErr    uint16 = 1 << 7
	hasMeta   uint16 = 1 << 8
)

const binaryHeaderSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	buf := make([]byte, binaryHeaderSize, b.sizeBytes(msg))
	buf[0] = byte(msg.MsgType)

	var flags uint16
	if msg.CF != db.CFDefault {
		flags |= hasCF
		buf = append(buf, byte(msg.CF))
	}
	if msg.Key != nil {
		flags |= hasKey
		buf = appendBytes(buf, msg.Key)
	}
	if msg.EndKey != nil {
		flags |= hasEndKey
		buf = appendBytes(buf, msg.EndKey)
	}
	if msg.Value != nil {
		flags |= hasValue
		buf = appendBytes(buf, msg.Value)
	}
	if msg.Index != 0 {
		flags |= hasIndex
		buf = binary.BigEndian.AppendUint64(buf, msg.Index)
	}
	if msg.Ok {
		flags |= isOk
	}
	if msg.Code != partition.RetCSuccess {
		flags |= hasCode
		buf = binary.BigEndian.AppendUint64(buf, uint64(msg.Code))
	}
	if msg.Err != "" {
		flags |= hasErr
		buf = appendBytes(buf, []byte(msg.Err))
	}
	if msg.Meta != nil {
		flags |= hasMeta
		buf = appendBytes(buf, msg.Meta)
	}

	// Set flags after knowing which fields are present
	binary.BigEndian.PutUint16(buf[1:3], flags)
	return buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < binaryHeaderSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := binaryReader{data: data, pos: binaryHeaderSize}

	if flags&hasCF != 0 {
		if r.pos+1 > len(data) {
			return fmt.Errorf("data too short for cf")
		}
		msg.CF = db.CF(data[r.pos])
		r.pos++
	}

	var err error
	if flags&hasKey != 0 {
		if msg.Key, err = r.bytes("key"); err != nil {
			return err
		}
	}
	if flags&hasEndKey != 0 {
		if msg.EndKey, err = r.bytes("end key"); err != nil {
			return err
		}
	}
	if flags&hasValue != 0 {
		if msg.Value, err = r.bytes("value"); err != nil {
			return err
		}
	}
	if flags&hasIndex != 0 {
		if msg.Index, err = r.uint64("index"); err != nil {
			return err
		}
	}
	msg.Ok = flags&isOk != 0
	if flags&hasCode != 0 {
		code, err := r.uint64("code")
		if err != nil {
			return err
		}
		msg.Code = partition.RetCode(code)
	}
	if flags&hasErr != 0 {
		e, err := r.bytes("error")
		if err != nil {
			return err
		}
		msg.Err = string(e)
	}
	if flags&hasMeta != 0 {
		if msg.Meta, err = r.bytes("meta"); err != nil {
			return err
		}
	}

	if r.pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-r.pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := binaryHeaderSize

	if msg.CF != db.CFDefault {
		size++
	}
	if msg.Key != nil {
		size += 4 + len(msg.Key)
	}
	if msg.EndKey != nil {
		size += 4 + len(msg.EndKey)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Index != 0 {
		size += 8
	}
	if msg.Code != partition.RetCSuccess {
		size += 8
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

type binaryReader struct {
	data []byte
	pos  int
}

// bytes reads a length prefixed field, the result is a copy and never nil
func (r *binaryReader) bytes(field string) ([]byte, error) {
	if r.pos+4 > len(r.data) {
		return nil, fmt.Errorf("data too short for %s length", field)
	}
	n := int(binary.BigEndian.Uint32(r.data[r.pos:]))
	r.pos += 4
	if n > len(r.data)-r.pos {
		return nil, fmt.Errorf("data too short for %s data", field)
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+n])
	r.pos += n
	return b, nil
}

func (r *binaryReader) uint64(field string) (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("data too short for %s", field)
	}
	v := binary.BigEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}
