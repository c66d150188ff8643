package ingest

import (
	"bytes"
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/ValentinKolb/pKV/lib/db/engines/pebbledb"
	"github.com/ValentinKolb/pKV/lib/partition"
	"github.com/cockroachdb/pebble/sstable"
	"github.com/google/uuid"
)

// FileWriter builds one table for one partition and column family. Keys must be added in strictly
// ascending order.
type FileWriter struct {
	importer *SSTImporter
	desc     Descriptor
	tmpPath  string
	w        *sstable.Writer
	keyBuf   []byte
	dataBuf  []byte
	lastKey  []byte
	finished bool
}

// NewFileWriter starts a table for the partition in its current epoch.
func (i *SSTImporter) NewFileWriter(m partition.Meta, cf db.CF) (*FileWriter, error) {
	if !cf.IsData() {
		return nil, fmt.Errorf("cannot write files for column family %s", cf)
	}
	desc := Descriptor{
		UUID:        uuid.New(),
		PartitionID: m.ID,
		Epoch:       m.Epoch,
		CF:          cf,
	}
	tmpPath := i.fs.PathJoin(i.dir, desc.UUID.String()+".tmp")
	f, err := i.fs.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", tmpPath, err)
	}
	return &FileWriter{
		importer: i,
		desc:     desc,
		tmpPath:  tmpPath,
		w:        sstable.NewWriter(f, sstable.WriterOptions{TableFormat: pebbledb.TableFormat}),
	}, nil
}

// Put adds a user key.
func (fw *FileWriter) Put(key, value []byte) error {
	if fw.lastKey != nil && bytes.Compare(key, fw.lastKey) <= 0 {
		return fmt.Errorf("key %q is not greater than previous key %q", key, fw.lastKey)
	}
	fw.dataBuf = db.DataKey(key, fw.dataBuf)
	fw.keyBuf = db.EngineKey(fw.desc.CF, fw.dataBuf, fw.keyBuf)
	if err := fw.w.Set(fw.keyBuf, value); err != nil {
		return err
	}
	if fw.desc.Start == nil {
		fw.desc.Start = bytes.Clone(key)
	}
	fw.lastKey = append(fw.lastKey[:0], key...)
	fw.desc.NumEntries++
	return nil
}

// Finish closes the table, moves it to its final name and returns its descriptor.
func (fw *FileWriter) Finish() (Descriptor, error) {
	if fw.finished {
		return Descriptor{}, fmt.Errorf("file %s already finished", fw.desc.UUID)
	}
	fw.finished = true

	if err := fw.w.Close(); err != nil {
		return Descriptor{}, err
	}
	if fw.desc.NumEntries == 0 {
		_ = fw.importer.fs.Remove(fw.tmpPath)
		return Descriptor{}, fmt.Errorf("file %s is empty", fw.desc.UUID)
	}
	fw.desc.End = bytes.Clone(fw.lastKey)

	length, checksum, err := fw.importer.checksum(fw.tmpPath)
	if err != nil {
		return Descriptor{}, err
	}
	fw.desc.Length = length
	fw.desc.Checksum = checksum

	if err := fw.importer.fs.Rename(fw.tmpPath, fw.importer.Path(fw.desc)); err != nil {
		return Descriptor{}, err
	}
	return fw.desc, nil
}

// Abort discards the table.
func (fw *FileWriter) Abort() {
	if fw.finished {
		return
	}
	fw.finished = true
	_ = fw.w.Close()
	_ = fw.importer.fs.Remove(fw.tmpPath)
}
