package store

import (
	"encoding/gob"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const indexFileName = "index.gob"

// DiskRegistry keeps each store in its own directory under a base path,
// so cached assets survive restarts. Entry bodies are zstd-compressed;
// headers and status live in a gob index file per store.
type DiskRegistry struct {
	basePath string

	compressionLevel int
	encoder          *zstd.Encoder
	decoder          *zstd.Decoder

	mu   sync.Mutex
	open map[string]*diskStore
}

// NewDiskRegistry creates a registry rooted at basePath. A compression
// level of zero disables body compression.
func NewDiskRegistry(basePath string, compressionLevel int) (*DiskRegistry, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	r := &DiskRegistry{
		basePath:         basePath,
		compressionLevel: compressionLevel,
		open:             make(map[string]*diskStore),
	}

	if compressionLevel > 0 {
		var err error
		r.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		r.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	return r, nil
}

// Open returns the store named name, creating its directory if absent.
func (r *DiskRegistry) Open(name string) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st, ok := r.open[name]; ok {
		return st, nil
	}

	dir := filepath.Join(r.basePath, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store %q: %w", name, err)
	}

	st := &diskStore{
		name:  name,
		dir:   dir,
		reg:   r,
		index: make(map[Key]*diskEntryMeta),
	}
	if err := st.loadIndex(); err != nil {
		// Index missing or corrupted, start fresh. Orphaned body files
		// are overwritten on the next Put of the same key.
		st.index = make(map[Key]*diskEntryMeta)
	}

	r.open[name] = st
	return st, nil
}

// Names returns the names of all store directories, sorted.
func (r *DiskRegistry) Names() ([]string, error) {
	dirEntries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes the store directory named name.
func (r *DiskRegistry) Remove(name string) error {
	r.mu.Lock()
	if st, ok := r.open[name]; ok {
		st.close()
		delete(r.open, name)
	}
	r.mu.Unlock()

	dir := filepath.Join(r.basePath, name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove store %q: %w", name, err)
	}
	return nil
}

// Rename moves the store directory named oldName to newName, replacing
// any existing directory of that name. Open handles to either name are
// dropped; the store is re-indexed on the next Open.
func (r *DiskRegistry) Rename(oldName, newName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range []string{oldName, newName} {
		if st, ok := r.open[name]; ok {
			st.close()
			delete(r.open, name)
		}
	}

	newDir := filepath.Join(r.basePath, newName)
	if err := os.RemoveAll(newDir); err != nil {
		return fmt.Errorf("failed to replace store %q: %w", newName, err)
	}
	if err := os.Rename(filepath.Join(r.basePath, oldName), newDir); err != nil {
		return fmt.Errorf("failed to rename store %q: %w", oldName, err)
	}
	return nil
}

// diskEntryMeta is the indexed metadata for one entry on disk.
type diskEntryMeta struct {
	File         string
	Status       int
	Header       map[string][]string
	StoredAt     time.Time
	Size         int64 // size on disk (compressed)
	OriginalSize int64
	Compressed   bool
}

// diskStore holds one generation of entries in a directory.
type diskStore struct {
	name string
	dir  string
	reg  *DiskRegistry

	mu     sync.RWMutex
	index  map[Key]*diskEntryMeta
	closed bool
}

func (s *diskStore) Name() string { return s.name }

func (s *diskStore) Get(key Key) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	meta, ok := s.index[key]
	if !ok {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(filepath.Join(s.dir, meta.File))
	if err != nil {
		return nil, fmt.Errorf("failed to read entry body: %w", err)
	}

	if meta.Compressed && s.reg.decoder != nil {
		body, err = s.reg.decoder.DecodeAll(body, make([]byte, 0, meta.OriginalSize))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress entry body: %w", err)
		}
	}

	return &Entry{
		Status:   meta.Status,
		Header:   http.Header(meta.Header).Clone(),
		Body:     body,
		StoredAt: meta.StoredAt,
	}, nil
}

func (s *diskStore) Put(key Key, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	body := entry.Body
	compressed := false
	if s.reg.encoder != nil && len(body) > 0 {
		body = s.reg.encoder.EncodeAll(body, make([]byte, 0, len(body)))
		compressed = true
	}

	file := key.hash() + ".zst"
	if err := os.WriteFile(filepath.Join(s.dir, file), body, 0o644); err != nil {
		return fmt.Errorf("failed to write entry body: %w", err)
	}

	s.index[key] = &diskEntryMeta{
		File:         file,
		Status:       entry.Status,
		Header:       entry.Header,
		StoredAt:     entry.StoredAt,
		Size:         int64(len(body)),
		OriginalSize: int64(len(entry.Body)),
		Compressed:   compressed,
	}

	return s.saveIndex()
}

func (s *diskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

func (s *diskStore) Keys() []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]Key, 0, len(s.index))
	for key := range s.index {
		keys = append(keys, key)
	}
	return keys
}

func (s *diskStore) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// loadIndex reads the gob index from the store directory.
func (s *diskStore) loadIndex() error {
	f, err := os.Open(filepath.Join(s.dir, indexFileName))
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	var index map[Key]*diskEntryMeta
	if err := gob.NewDecoder(f).Decode(&index); err != nil {
		return fmt.Errorf("failed to decode index: %w", err)
	}
	s.index = index
	return nil
}

// saveIndex writes the gob index. Must be called with the lock held.
func (s *diskStore) saveIndex() error {
	f, err := os.Create(filepath.Join(s.dir, indexFileName))
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := gob.NewEncoder(f).Encode(s.index); err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return nil
}
