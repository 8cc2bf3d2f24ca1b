package storage

import (
	"fmt"

	"github.com/0xmhha/tokenwatch/internal/constants"
	"go.uber.org/zap"
)

// Open creates the Store for the named backend.
func Open(backend, path string, logger *zap.Logger) (Store, error) {
	switch backend {
	case constants.StorageBackendFile, "":
		store, err := NewFileStore(path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case constants.StorageBackendPebble:
		store, err := NewPebbleStore(&PebbleConfig{Path: path}, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
