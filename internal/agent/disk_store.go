package agent

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tmpSuffix = ".tmp"

// DiskStore keeps one record file per part inside a directory.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Put writes to a uniquely named temp file and renames it into place, so a
// reader never sees half a part.
func (s *DiskStore) Put(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}

	tmp := filepath.Join(s.dir, fmt.Sprintf("%s.%s%s", name, uuid.NewString(), tmpSuffix))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	rec := &Record{CreateTime: time.Now().Unix(), Data: data}
	if err := rec.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path(name))
}

func (s *DiskStore) Get(name string) ([]byte, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	rec, err := s.read(name)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

func (s *DiskStore) read(name string) (*Record, error) {
	f, err := os.Open(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrPartNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadRecordFrom(f)
}

func (s *DiskStore) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrPartNotFound
	}
	return err
}

func (s *DiskStore) Search(substr []byte) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		rec, err := s.read(name)
		if err != nil {
			log.Printf("Skipping unreadable part %s: %v", name, err)
			continue
		}
		if bytes.Contains(rec.Data, substr) {
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *DiskStore) Close() error {
	return nil
}
