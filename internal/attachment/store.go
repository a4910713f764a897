// Package attachment reads attachment content for outgoing email.
package attachment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sungwon/govnotify/internal/config"
)

// ErrNotFound is returned when no content is stored for an attachment id.
var ErrNotFound = errors.New("attachment: content not found")

// Store holds attachment content keyed by attachment id.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) ([]byte, error)
	Put(ctx context.Context, id uuid.UUID, data []byte) error
}

// New creates the Store selected by cfg.Backend. An empty or unknown
// backend falls back to the local directory store.
func New(ctx context.Context, cfg config.AttachmentsConfig, log zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.LocalDir)
	case "s3":
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		log.Warn().
			Str("backend", cfg.Backend).
			Msg("unsupported or empty attachment backend, defaulting to local")
		return NewLocalStore(cfg.LocalDir)
	}
}
