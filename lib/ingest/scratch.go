package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
)

// ScratchFile is a temporary file in the import directory. It is written once, then read back.
type ScratchFile struct {
	fs   vfs.FS
	path string
	f    vfs.File
}

// NewScratchFile creates an empty scratch file. Remove it when done.
func (i *SSTImporter) NewScratchFile(prefix string) (*ScratchFile, error) {
	path := i.fs.PathJoin(i.dir, prefix+"-"+uuid.NewString()+".tmp")
	f, err := i.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	return &ScratchFile{fs: i.fs, path: path, f: f}, nil
}

func (s *ScratchFile) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

// Reader finishes writing and returns a reader from the start of the file.
func (s *ScratchFile) Reader() (io.Reader, error) {
	if err := s.f.Close(); err != nil {
		return nil, err
	}
	f, err := s.fs.Open(s.path)
	if err != nil {
		return nil, err
	}
	s.f = f
	return f, nil
}

// Remove closes and deletes the file.
func (s *ScratchFile) Remove() {
	_ = s.f.Close()
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warningf("failed to remove scratch file %s: %v", s.path, err)
	}
}
