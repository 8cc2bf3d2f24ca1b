package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store persists monitor state and tenant configuration.
type Store interface {
	// Load returns the persisted snapshot, or defaults when nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)
	// SaveState overwrites the monitor state record.
	SaveState(ctx context.Context, state MonitorState) error
	// SaveTenant overwrites one tenant record.
	SaveTenant(ctx context.Context, tenant TenantConfig) error
	Close() error
}

// MonitorState is the poll loop checkpoint plus the global switch.
type MonitorState struct {
	// LastCheckedBlock is nil until the first successful poll
	LastCheckedBlock *uint64
	GlobalEnabled    bool
}

// Checkpoint returns the last checked block and whether it is set.
func (s MonitorState) Checkpoint() (uint64, bool) {
	if s.LastCheckedBlock == nil {
		return 0, false
	}
	return *s.LastCheckedBlock, true
}

// WithCheckpoint returns a copy of s with the checkpoint set to block.
func (s MonitorState) WithCheckpoint(block uint64) MonitorState {
	s.LastCheckedBlock = &block
	return s
}

// Destination is an opaque delivery handle. Empty means absent.
type Destination string

// IsSet reports whether a destination is configured.
func (d Destination) IsSet() bool {
	return d != ""
}

// MarshalJSON writes numeric handles as JSON numbers and absent ones as null,
// so state files written by older deployments round-trip unchanged.
func (d Destination) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("null"), nil
	}
	if isDigits(string(d)) {
		return []byte(d), nil
	}
	return json.Marshal(string(d))
}

// UnmarshalJSON accepts a number, a string or null.
func (d *Destination) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*d = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = Destination(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("destination must be a number, string or null: %w", err)
	}
	if !isDigits(n.String()) {
		return fmt.Errorf("destination must be a non-negative integer, got %s", n)
	}
	*d = Destination(n.String())
	return nil
}

func isDigits(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	return strings.Trim(s, "0123456789") == ""
}

// TenantConfig is the per-tenant delivery policy.
type TenantConfig struct {
	TenantID    string      `json:"tenant_id"`
	Destination Destination `json:"destination"`
	Enabled     bool        `json:"enabled"`
}

// DefaultTenant returns the configuration of a tenant that was never configured.
func DefaultTenant(id string) TenantConfig {
	return TenantConfig{TenantID: id, Enabled: true}
}

// Snapshot is everything a Store holds.
type Snapshot struct {
	State   MonitorState
	Tenants map[string]TenantConfig
}

// DefaultSnapshot is the state of a monitor that has never run.
func DefaultSnapshot() *Snapshot {
	return &Snapshot{
		State:   MonitorState{GlobalEnabled: true},
		Tenants: make(map[string]TenantConfig),
	}
}
