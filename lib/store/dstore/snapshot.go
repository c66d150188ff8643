package dstore

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/cespare/xxhash/v2"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// Snapshot stream layout:
//
//	magic(4) | version(1) | record* | endMarker(1) | xxhash64 of everything before(8)
//	record = cf(1) | uvarint keyLen | key | uvarint valueLen | value
//
// Keys are engine keys without the column family prefix, i.e. data keys and local meta keys.
var snapshotMagic = []byte("PKVS")

const (
	snapshotVersion   = 1
	snapshotEndMarker = 0xFF
	// how many records are written between checks of the done channel
	snapshotCheckEvery = 1024
	// batches written while recovering are committed at this size
	recoverBatchBytes = 4 << 20
)

// writeSnapshot streams every column family of snap to w.
func writeSnapshot(snap db.Snapshot, w io.Writer, done <-chan struct{}) error {
	digest := xxhash.New()
	bw := bufio.NewWriter(io.MultiWriter(w, digest))

	if _, err := bw.Write(snapshotMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(snapshotVersion); err != nil {
		return err
	}

	var buf []byte
	var records int
	var writeErr error
	for cf := db.CFDefault; cf <= db.CFRaft; cf++ {
		err := snap.Scan(cf, nil, nil, func(key, value []byte) bool {
			records++
			if records%snapshotCheckEvery == 0 && isDone(done) {
				writeErr = sm.ErrSnapshotStopped
				return false
			}
			buf = append(buf[:0], byte(cf))
			buf = binary.AppendUvarint(buf, uint64(len(key)))
			buf = append(buf, key...)
			buf = binary.AppendUvarint(buf, uint64(len(value)))
			buf = append(buf, value...)
			if _, writeErr = bw.Write(buf); writeErr != nil {
				return false
			}
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", cf, err)
		}
		if writeErr != nil {
			return writeErr
		}
	}

	if err := bw.WriteByte(snapshotEndMarker); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, digest.Sum64())
}

// spool holds a copy of the snapshot stream until it has been verified.
type spool interface {
	io.Writer
	Reader() (io.Reader, error)
}

// readSnapshot replaces the whole content of engine with the snapshot read from r. The stream is
// copied to scratch first and the engine is only touched once the checksum matched.
func readSnapshot(engine db.KVEngine, scratch spool, r io.Reader, done <-chan struct{}) error {
	sum := &checksumWriter{digest: xxhash.New()}
	// sum goes first, scratch may modify the buffer it is handed
	n, err := io.Copy(io.MultiWriter(sum, scratch), &doneReader{r: r, done: done})
	if err != nil {
		return fmt.Errorf("failed to spool snapshot: %w", err)
	}
	if len(sum.tail) < 8 {
		return fmt.Errorf("snapshot of %d bytes is truncated", n)
	}
	if got, want := binary.BigEndian.Uint64(sum.tail), sum.digest.Sum64(); got != want {
		return fmt.Errorf("snapshot checksum mismatch: got %x, want %x", got, want)
	}

	spooled, err := scratch.Reader()
	if err != nil {
		return fmt.Errorf("failed to read spooled snapshot: %w", err)
	}
	rd := &byteReader{r: bufio.NewReader(io.LimitReader(spooled, n-8))}

	header := make([]byte, len(snapshotMagic)+1)
	if _, err := io.ReadFull(rd, header); err != nil {
		return fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if !bytes.Equal(header[:len(snapshotMagic)], snapshotMagic) || header[len(snapshotMagic)] != snapshotVersion {
		return fmt.Errorf("invalid snapshot header %x", header)
	}

	if err := clearEngine(engine); err != nil {
		return err
	}

	wb := engine.NewWriteBatch()
	defer func() { _ = wb.Close() }()

	var records int
	for {
		cf, err := rd.ReadByte()
		if err != nil {
			return fmt.Errorf("failed to read snapshot record: %w", err)
		}
		if cf == snapshotEndMarker {
			break
		}
		if db.CF(cf) > db.CFRaft {
			return fmt.Errorf("invalid column family %d in snapshot", cf)
		}
		key, err := readBytes(rd)
		if err != nil {
			return err
		}
		value, err := readBytes(rd)
		if err != nil {
			return err
		}
		if err := wb.Put(db.CF(cf), key, value); err != nil {
			return err
		}

		records++
		if records%snapshotCheckEvery == 0 && isDone(done) {
			return sm.ErrSnapshotStopped
		}
		if wb.DataSize() >= recoverBatchBytes {
			if err := wb.Write(); err != nil {
				return err
			}
			_ = wb.Close()
			wb = engine.NewWriteBatch()
		}
	}
	return wb.Write()
}

// checksumWriter hashes everything written to it except the trailing 8 bytes, which are kept in tail.
type checksumWriter struct {
	digest *xxhash.Digest
	tail   []byte
}

func (w *checksumWriter) Write(p []byte) (int, error) {
	w.tail = append(w.tail, p...)
	if n := len(w.tail) - 8; n > 0 {
		_, _ = w.digest.Write(w.tail[:n])
		w.tail = append(w.tail[:0], w.tail[n:]...)
	}
	return len(p), nil
}

// doneReader stops reading once done is closed.
type doneReader struct {
	r    io.Reader
	done <-chan struct{}
}

func (d *doneReader) Read(p []byte) (int, error) {
	if isDone(d.done) {
		return 0, sm.ErrSnapshotStopped
	}
	return d.r.Read(p)
}

// clearEngine deletes every key of every column family.
func clearEngine(engine db.KVEngine) error {
	for cf := db.CFDefault; cf <= db.CFRaft; cf++ {
		wb := engine.NewWriteBatch()
		err := engine.Scan(cf, nil, nil, func(key, _ []byte) bool {
			return wb.Delete(cf, key) == nil
		})
		if err == nil {
			err = wb.Write()
		}
		_ = wb.Close()
		if err != nil {
			return fmt.Errorf("failed to clear %s: %w", cf, err)
		}
	}
	return nil
}

type byteReader struct {
	r   io.Reader
	one [1]byte
}

func (b *byteReader) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.one[:]); err != nil {
		return 0, err
	}
	return b.one[0], nil
}

func readBytes(rd *byteReader) ([]byte, error) {
	n, err := binary.ReadUvarint(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot record length: %w", err)
	}
	if n > 1<<31 {
		return nil, fmt.Errorf("snapshot record of %d bytes is too large", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		return nil, fmt.Errorf("failed to read snapshot record: %w", err)
	}
	return b, nil
}

func isDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

var errUnknownSnapshot = errors.New("snapshot context is not an engine snapshot")
