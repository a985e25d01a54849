package subscription

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/user/sunbot/pkg/logger"
)

// Snapshot is the persisted form of the registry.
type Snapshot struct {
	Users  []LocationRecord `json:"u"`
	Guilds []LocationRecord `json:"s"`
}

// LocationRecord lists the subscribers of one location.
type LocationRecord struct {
	Name        string             `json:"name"`
	TZ          string             `json:"tz"`
	Subscribers []SubscriberRecord `json:"subscribers"`
}

// SubscriberRecord pairs a subscriber with the entity its target resolves from.
// For users both IDs are the user ID; for guilds EntityID is the channel ID.
type SubscriberRecord struct {
	SubID    int64 `json:"sub_id"`
	EntityID int64 `json:"entity_id"`
}

func (s *Snapshot) records(kind Kind) []LocationRecord {
	if kind == Guild {
		return s.Guilds
	}
	return s.Users
}

func (s *Snapshot) set(kind Kind, records []LocationRecord) {
	if kind == Guild {
		s.Guilds = records
		return
	}
	s.Users = records
}

// sort orders locations by name and subscribers by ID so saves are stable.
func (s *Snapshot) sort() {
	for _, records := range [][]LocationRecord{s.Users, s.Guilds} {
		sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
		for _, rec := range records {
			subs := rec.Subscribers
			sort.Slice(subs, func(i, j int) bool { return subs[i].SubID < subs[j].SubID })
		}
	}
}

// FileStore reads and writes the JSON snapshot file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file path.
func (f *FileStore) Path() string {
	return f.path
}

// Read loads the snapshot. A missing file yields an empty snapshot.
func (f *FileStore) Read() (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", f.path).Msg("Subscription save file not found, starting empty")
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return &snap, nil
}

// Write replaces the snapshot file atomically.
func (f *FileStore) Write(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
