package session

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// StorageKey is the single key the snapshot is stored under.
const StorageKey = "ielts-tutor.session"

// Storage is a small key/value store for client state.
type Storage interface {
	// Get returns ok=false when nothing is stored under key.
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	Remove(key string) error
}

// Load reads the persisted snapshot. Missing data yields Default.
// A malformed record also yields Default, along with the decoding error.
func Load(s Storage) (Snapshot, error) {
	data, ok, err := s.Get(StorageKey)
	if err != nil {
		return Default(), errors.Wrap(err, "reading session snapshot")
	}
	if !ok {
		return Default(), nil
	}
	return Decode(data)
}

// Save persists snap, replacing whatever was stored.
func Save(s Storage, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	return errors.Wrap(s.Set(StorageKey, data), "writing session snapshot")
}

// FileStorage keeps one JSON file per key in a directory readable by the owner only.
type FileStorage struct {
	dir string
	mu  sync.Mutex
}

var _ Storage = (*FileStorage)(nil)

// NewFileStorage uses dir, or ~/.ieltstutor when dir is empty.
func NewFileStorage(dir string) (*FileStorage, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "getting user home directory")
		}
		dir = filepath.Join(home, ".ieltstutor")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	return &FileStorage{dir: dir}, nil
}

func (fs *FileStorage) path(key string) string {
	return filepath.Join(fs.dir, key+".json")
}

func (fs *FileStorage) Get(key string) ([]byte, bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set writes through a temp file so a crash never leaves a half written record.
func (fs *FileStorage) Set(key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tmp, err := os.CreateTemp(fs.dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = os.Chmod(tmp.Name(), 0600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fs.path(key))
}

func (fs *FileStorage) Remove(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// MemoryStorage is an in-process Storage, used by tests and short lived clients.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (ms *MemoryStorage) Get(key string) ([]byte, bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	v, ok := ms.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (ms *MemoryStorage) Set(key string, value []byte) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.data[key] = append([]byte(nil), value...)
	return nil
}

func (ms *MemoryStorage) Remove(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.data, key)
	return nil
}
