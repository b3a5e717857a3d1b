package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"

	sinksocket "github.com/eugener/sinksocket/internal"
	"github.com/eugener/sinksocket/internal/storage"
)

// AdminKeyPrefix marks generated admin keys.
const AdminKeyPrefix = "sks_"

// Bootstrap seeds the database with the stream descriptors listed in the
// config file. Streams already stored are left untouched, so descriptors
// pushed at runtime survive a restart.
func Bootstrap(ctx context.Context, cfg *Config, store storage.SRIStore) error {
	for _, e := range cfg.Streams {
		desc, err := e.SRI()
		if err != nil {
			return err
		}
		_, err = store.GetSRI(ctx, desc.StreamID)
		if err == nil {
			continue // already exists, skip
		}
		if !errors.Is(err, sinksocket.ErrNotFound) {
			return fmt.Errorf("bootstrap stream %q: %w", desc.StreamID, err)
		}
		if err := store.SaveSRI(ctx, desc); err != nil {
			return fmt.Errorf("bootstrap stream %q: %w", desc.StreamID, err)
		}
		slog.Info("bootstrapped stream", "stream_id", desc.StreamID, "keywords", len(desc.Keywords))
	}
	return nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return AdminKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
