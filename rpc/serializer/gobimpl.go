package serializer

import (
	"bytes"
	"encoding/gob"
	"sync"

	"github.com/ValentinKolb/pKV/rpc/common"
)

// NewGOBSerializer creates a new serializer using Go's binary gob format.
// Gob does not transmit empty slices, so an empty key or value arrives as nil.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl implements the IRPCSerializer interface using gob encoding.
// Each message is a self-describing gob stream, the encoders are not reused.
type gobSerializerImpl struct {
}

var gobBufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	buf := gobBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer gobBufferPool.Put(buf)

	if err := gob.NewEncoder(buf).Encode(msg); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
