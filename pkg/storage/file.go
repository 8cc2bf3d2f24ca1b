package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// fileDocument is the on-disk layout of the JSON state file.
type fileDocument struct {
	LastCheckedBlock *uint64                `json:"last_checked_block"`
	Enabled          *bool                  `json:"enabled"`
	Servers          map[string]serverEntry `json:"servers"`
}

type serverEntry struct {
	MonitorChannelID Destination `json:"monitor_channel_id"`
	Enabled          *bool       `json:"enabled"`
}

func boolPtr(v bool) *bool {
	return &v
}

func (d *fileDocument) clone() *fileDocument {
	out := &fileDocument{
		Enabled: d.Enabled,
		Servers: make(map[string]serverEntry, len(d.Servers)),
	}
	if d.LastCheckedBlock != nil {
		v := *d.LastCheckedBlock
		out.LastCheckedBlock = &v
	}
	for id, s := range d.Servers {
		out.Servers[id] = s
	}
	return out
}

func (d *fileDocument) snapshot() *Snapshot {
	snap := DefaultSnapshot()
	if d.LastCheckedBlock != nil {
		snap.State = snap.State.WithCheckpoint(*d.LastCheckedBlock)
	}
	if d.Enabled != nil {
		snap.State.GlobalEnabled = *d.Enabled
	}
	for id, s := range d.Servers {
		t := DefaultTenant(id)
		t.Destination = s.MonitorChannelID
		if s.Enabled != nil {
			t.Enabled = *s.Enabled
		}
		snap.Tenants[id] = t
	}
	return snap
}

// FileStore keeps all state in a single JSON document that is rewritten whole
// on every save.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	doc    *fileDocument
	closed atomic.Bool
}

// NewFileStore creates a store backed by the JSON file at path. The file is
// read lazily by Load.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:   path,
		logger: logger.Named("filestore"),
	}, nil
}

// Path returns the state file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file, creating it with defaults when it does not exist.
// A file that exists but cannot be parsed is an error and is left untouched.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	return s.doc.snapshot(), nil
}

func (s *FileStore) loadLocked() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		doc := &fileDocument{Enabled: boolPtr(true), Servers: make(map[string]serverEntry)}
		if err := s.write(doc); err != nil {
			return persistErr("create state file", err)
		}
		s.doc = doc
		s.logger.Info("created state file with defaults", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return persistErr("read state file", err)
	}

	doc := &fileDocument{}
	if err := json.Unmarshal(data, doc); err != nil {
		return persistErr("parse state file", err)
	}
	if doc.Servers == nil {
		doc.Servers = make(map[string]serverEntry)
	}
	s.doc = doc
	return nil
}

// SaveState overwrites the checkpoint and global flag.
func (s *FileStore) SaveState(ctx context.Context, state MonitorState) error {
	return s.update("save state", func(doc *fileDocument) {
		doc.LastCheckedBlock = state.LastCheckedBlock
		doc.Enabled = boolPtr(state.GlobalEnabled)
	})
}

// SaveTenant overwrites one tenant entry.
func (s *FileStore) SaveTenant(ctx context.Context, tenant TenantConfig) error {
	if tenant.TenantID == "" {
		return persistErr("save tenant", fmt.Errorf("tenant id cannot be empty"))
	}
	return s.update("save tenant", func(doc *fileDocument) {
		doc.Servers[tenant.TenantID] = serverEntry{
			MonitorChannelID: tenant.Destination,
			Enabled:          boolPtr(tenant.Enabled),
		}
	})
}

// Close marks the store closed; later calls fail with ErrClosed.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

// update applies fn to a copy of the cached document and commits the copy
// only once it is on disk.
func (s *FileStore) update(op string, fn func(doc *fileDocument)) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		if err := s.loadLocked(); err != nil {
			return err
		}
	}

	next := s.doc.clone()
	fn(next)

	if err := s.write(next); err != nil {
		return persistErr(op, err)
	}
	s.doc = next
	return nil
}

// write replaces the state file through a temp file and rename.
func (s *FileStore) write(doc *fileDocument) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) ensureNotClosed() error {
	if s.closed.Load() {
		return persistErr("file store", ErrClosed)
	}
	return nil
}
