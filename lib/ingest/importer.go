package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/pKV/lib/db"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/sstable"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("ingest")

// Validated is a descriptor whose file has been checked against its recorded properties.
type Validated struct {
	Descriptor Descriptor
	Path       string
}

// Importer owns the import directory of a node.
type Importer interface {
	// Validate checks that the file of d exists and matches length, checksum, column family and key range.
	Validate(d Descriptor) (*Validated, error)
	// Ingest atomically adds all files to the engine. The source files are removed afterwards.
	Ingest(files []*Validated, engine db.KVEngine) error
	// Delete removes the file of d. Deleting a missing file is not an error.
	Delete(d Descriptor) error
}

// SSTImporter is the Importer for sorted string tables in a directory of a pebble vfs.FS. The engine
// the files are ingested into must use the same filesystem.
type SSTImporter struct {
	fs  vfs.FS
	dir string
}

// NewSSTImporter creates the import directory if needed.
func NewSSTImporter(fs vfs.FS, dir string) (*SSTImporter, error) {
	if fs == nil {
		fs = vfs.Default
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create import dir %s: %w", dir, err)
	}
	return &SSTImporter{fs: fs, dir: dir}, nil
}

// Path returns where the file of d is expected.
func (i *SSTImporter) Path(d Descriptor) string {
	return i.fs.PathJoin(i.dir, d.FileName())
}

func (i *SSTImporter) Validate(d Descriptor) (*Validated, error) {
	path := i.Path(d)

	length, checksum, err := i.checksum(path)
	if err != nil {
		return nil, err
	}
	if length != d.Length {
		return nil, fmt.Errorf("file %s: length %d, expected %d", d.UUID, length, d.Length)
	}
	if checksum != d.Checksum {
		return nil, fmt.Errorf("file %s: checksum %x, expected %x", d.UUID, checksum, d.Checksum)
	}

	f, err := i.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", d.UUID, err)
	}
	// the reader closes f
	reader, err := sstable.NewReader(f, sstable.ReaderOptions{})
	if err != nil {
		return nil, fmt.Errorf("file %s: not a readable table: %w", d.UUID, err)
	}
	defer reader.Close()

	if reader.Properties.NumEntries != d.NumEntries {
		return nil, fmt.Errorf("file %s: %d entries, expected %d", d.UUID, reader.Properties.NumEntries, d.NumEntries)
	}

	iter, err := reader.NewIter(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", d.UUID, err)
	}
	defer iter.Close()

	first, _ := iter.First()
	if first == nil {
		return nil, fmt.Errorf("file %s: table is empty", d.UUID)
	}
	if err := checkBound(d, first.UserKey, d.Start, "smallest"); err != nil {
		return nil, err
	}
	last, _ := iter.Last()
	if err := checkBound(d, last.UserKey, d.End, "largest"); err != nil {
		return nil, err
	}

	return &Validated{Descriptor: d, Path: path}, nil
}

func (i *SSTImporter) Ingest(files []*Validated, engine db.KVEngine) error {
	if len(files) == 0 {
		return nil
	}
	paths := make([]string, len(files))
	for idx, f := range files {
		paths[idx] = f.Path
	}
	if err := engine.IngestExternalFiles(paths); err != nil {
		return err
	}
	for _, f := range files {
		if err := i.Delete(f.Descriptor); err != nil {
			// the data is already in the engine, a leftover file only costs disk space
			log.Warningf("failed to remove ingested file %s: %v", f.Path, err)
		}
	}
	return nil
}

func (i *SSTImporter) Delete(d Descriptor) error {
	err := i.fs.Remove(i.Path(d))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether the file of d is still in the import directory.
func (i *SSTImporter) Exists(d Descriptor) bool {
	_, err := i.fs.Stat(i.Path(d))
	return err == nil
}

func (i *SSTImporter) checksum(path string) (uint64, uint64, error) {
	f, err := i.fs.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	return uint64(n), h.Sum64(), nil
}

// checkBound decodes an engine key from the table and compares it to the recorded user key.
func checkBound(d Descriptor, engineKey, want []byte, which string) error {
	cf, dataKey, err := db.SplitEngineKey(engineKey)
	if err != nil {
		return fmt.Errorf("file %s: %s key: %w", d.UUID, which, err)
	}
	if cf != d.CF {
		return fmt.Errorf("file %s: %s key is in column family %s, expected %s", d.UUID, which, cf, d.CF)
	}
	key, err := db.OriginKey(dataKey)
	if err != nil {
		return fmt.Errorf("file %s: %s key: %w", d.UUID, which, err)
	}
	if !bytes.Equal(key, want) {
		return fmt.Errorf("file %s: %s key %q, expected %q", d.UUID, which, key, want)
	}
	return nil
}
