package write

import "encoding/binary"

// Encoder is the pending batch of a partition: requests with an equal header that have not been
// proposed yet. It is owned by the partition goroutine and not safe for concurrent use.
type Encoder struct {
	header         Header
	buf            []byte // encoded header followed by the encoded ops, op count patched in Encode
	count          int
	sizeLimit      int
	notifyProposed bool
	channels       []*ResponseChannel
}

// NewEncoder starts a batch with the ops of one request. A request larger than sizeLimit still
// forms a batch on its own, it just cannot be amended.
// notifyProposed records whether the replica had applied an entry of the current term when the
// batch was created; such batches signal "proposed" right after proposing.
func NewEncoder(h Header, ops []Op, sizeLimit int, notifyProposed bool) *Encoder {
	size := HeaderSize
	for _, op := range ops {
		size += op.SizeBytes()
	}
	e := &Encoder{
		header:         h,
		buf:            make([]byte, 0, max(size, min(sizeLimit, 4*size))),
		sizeLimit:      sizeLimit,
		notifyProposed: notifyProposed,
	}
	e.buf = h.appendTo(e.buf)
	e.buf = binary.BigEndian.AppendUint32(e.buf, 0)
	e.appendOps(ops)
	return e
}

// Amend merges the ops of another request into the batch. It returns false without changing the
// batch if the header differs in partition id, epoch or term, or if the merged batch would exceed
// the size limit.
func (e *Encoder) Amend(h Header, ops []Op) bool {
	if !e.header.SameBatch(h) {
		return false
	}
	added := 0
	for _, op := range ops {
		added += op.SizeBytes()
	}
	if len(e.buf)+added > e.sizeLimit {
		return false
	}
	e.appendOps(ops)
	return true
}

func (e *Encoder) appendOps(ops []Op) {
	for _, op := range ops {
		e.buf = appendOp(e.buf, op)
	}
	e.count += len(ops)
}

// AddResponseChannel attaches the channel of a request whose ops are in the batch.
func (e *Encoder) AddResponseChannel(ch *ResponseChannel) {
	e.channels = append(e.channels, ch)
}

func (e *Encoder) Header() Header {
	return e.header
}

func (e *Encoder) NotifyProposed() bool {
	return e.notifyProposed
}

// Size returns the encoded size of the batch in bytes.
func (e *Encoder) Size() int {
	return len(e.buf)
}

// Len returns the number of ops in the batch.
func (e *Encoder) Len() int {
	return e.count
}

// Channels returns the attached response channels in request order.
func (e *Encoder) Channels() []*ResponseChannel {
	return e.channels
}

// Encode finishes the batch. The encoder must not be used afterwards.
func (e *Encoder) Encode() ([]byte, []*ResponseChannel) {
	binary.BigEndian.PutUint32(e.buf[HeaderSize-4:HeaderSize], uint32(e.count))
	data, chs := e.buf, e.channels
	e.buf, e.channels = nil, nil
	return data, chs
}
