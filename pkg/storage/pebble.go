package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// Key layout
const (
	keyState      = "/meta/state"
	prefixTenants = "/tenants/"
)

func tenantKey(id string) []byte {
	return []byte(prefixTenants + id)
}

// stateRecord and tenantRecord are the JSON values stored in PebbleDB.
type stateRecord struct {
	LastCheckedBlock *uint64 `json:"last_checked_block"`
	Enabled          bool    `json:"enabled"`
}

type tenantRecord struct {
	TenantID         string      `json:"tenant_id"`
	MonitorChannelID Destination `json:"monitor_channel_id"`
	Enabled          bool        `json:"enabled"`
}

// PebbleConfig holds PebbleDB options
type PebbleConfig struct {
	Path string
	// Cache is the block cache size in MB
	Cache int
	// MaxOpenFiles is the maximum number of open files
	MaxOpenFiles int
}

// Validate validates the configuration
func (c *PebbleConfig) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if c.Cache < 0 {
		return fmt.Errorf("cache cannot be negative")
	}
	return nil
}

// PebbleStore keeps monitor state and tenant records in PebbleDB.
type PebbleStore struct {
	db     *pebble.DB
	logger *zap.Logger
	closed atomic.Bool
}

// NewPebbleStore opens (or creates) a PebbleDB at cfg.Path.
func NewPebbleStore(cfg *PebbleConfig, logger *zap.Logger) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cacheMB := cfg.Cache
	if cacheMB == 0 {
		cacheMB = 8
	}
	maxOpenFiles := cfg.MaxOpenFiles
	if maxOpenFiles == 0 {
		maxOpenFiles = 64
	}

	cache := pebble.NewCache(int64(cacheMB) << 20)
	defer cache.Unref()

	db, err := pebble.Open(cfg.Path, &pebble.Options{
		Cache:        cache,
		MaxOpenFiles: maxOpenFiles,
	})
	if err != nil {
		return nil, persistErr("open database", err)
	}

	s := &PebbleStore{
		db:     db,
		logger: logger.Named("pebblestore"),
	}
	s.logger.Info("opened pebble store",
		zap.String("path", cfg.Path),
		zap.Int("cache_mb", cacheMB),
	)
	return s, nil
}

// Load reads the state record and every tenant record. Missing records yield defaults.
func (s *PebbleStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	snap := DefaultSnapshot()

	var state stateRecord
	err := s.getJSON([]byte(keyState), &state)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, persistErr("load state", err)
	default:
		snap.State = MonitorState{
			LastCheckedBlock: state.LastCheckedBlock,
			GlobalEnabled:    state.Enabled,
		}
	}

	prefix := []byte(prefixTenants)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: incrementPrefix(prefix),
	})
	if err != nil {
		return nil, persistErr("load tenants", fmt.Errorf("failed to create iterator: %w", err))
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec tenantRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, persistErr("load tenants", fmt.Errorf("decode %s: %w", iter.Key(), err))
		}
		snap.Tenants[rec.TenantID] = TenantConfig{
			TenantID:    rec.TenantID,
			Destination: rec.MonitorChannelID,
			Enabled:     rec.Enabled,
		}
	}
	if err := iter.Error(); err != nil {
		return nil, persistErr("load tenants", err)
	}

	s.logger.Debug("loaded state",
		zap.Int("tenants", len(snap.Tenants)),
		zap.Bool("has_checkpoint", snap.State.LastCheckedBlock != nil),
	)
	return snap, nil
}

// SaveState overwrites the state record.
func (s *PebbleStore) SaveState(ctx context.Context, state MonitorState) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	rec := stateRecord{LastCheckedBlock: state.LastCheckedBlock, Enabled: state.GlobalEnabled}
	return persistErr("save state", s.putJSON([]byte(keyState), rec))
}

// SaveTenant overwrites one tenant record.
func (s *PebbleStore) SaveTenant(ctx context.Context, tenant TenantConfig) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if tenant.TenantID == "" {
		return persistErr("save tenant", fmt.Errorf("tenant id cannot be empty"))
	}
	rec := tenantRecord{
		TenantID:         tenant.TenantID,
		MonitorChannelID: tenant.Destination,
		Enabled:          tenant.Enabled,
	}
	return persistErr("save tenant", s.putJSON(tenantKey(tenant.TenantID), rec))
}

// Close closes the database
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *PebbleStore) putJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *PebbleStore) getJSON(key []byte, v interface{}) error {
	value, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	defer closer.Close()

	// value is only valid until closer.Close(); Unmarshal copies what it keeps.
	return json.Unmarshal(value, v)
}

func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return persistErr("pebble store", ErrClosed)
	}
	return nil
}

// incrementPrefix returns the smallest key greater than every key with prefix.
func incrementPrefix(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	result := make([]byte, len(prefix))
	copy(result, prefix)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xff {
			result[i]++
			return result[:i+1]
		}
	}
	return nil
}
