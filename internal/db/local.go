package db

import (
	"path/filepath"

	"backend-livetrack/internal/config"
	"backend-livetrack/internal/storage"
)

// OpenLocalStore opens the Pebble store under DATA_DIR/store.
func OpenLocalStore(cfg config.Config) (*storage.Store, error) {
	mode, err := storage.ParseFsyncMode(cfg.FsyncMode)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Options{
		DataDir: filepath.Join(cfg.DataDir, "store"),
		Fsync:   mode,
	})
}
