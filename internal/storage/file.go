package storage

import (
	"context"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/quantumauth-io/quantum-wallet/internal/securefile"
)

// FileStore keeps every key in a single password-encrypted file. The whole
// document is rewritten on each mutation.
type FileStore struct {
	path     string
	password []byte
	opt      securefile.Options

	mu     sync.Mutex
	loaded bool
	data   map[string][]byte
}

const fileStoreAAD = "quantumwallet:storage:v1"

func NewFileStore(path string, password []byte, opt securefile.Options) *FileStore {
	if opt.AAD == nil {
		opt.AAD = []byte(fileStoreAAD)
	}
	return &FileStore{
		path:     path,
		password: append([]byte(nil), password...),
		opt:      opt,
		data:     make(map[string][]byte),
	}
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	s.data[key] = append([]byte(nil), value...)
	return s.persistLocked()
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return err
	}
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.persistLocked()
}

func (s *FileStore) loadLocked() error {
	if s.loaded {
		return nil
	}
	data, err := securefile.ReadEncryptedJSON[map[string][]byte](s.path, s.password, s.opt)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// first run
	case err != nil:
		return errors.Wrapf(err, "open store %s", s.path)
	default:
		if data != nil {
			s.data = data
		}
	}
	s.loaded = true
	return nil
}

func (s *FileStore) persistLocked() error {
	if err := securefile.WriteEncryptedJSON(s.path, s.data, s.password, s.opt); err != nil {
		return errors.Wrapf(err, "write store %s", s.path)
	}
	return nil
}
