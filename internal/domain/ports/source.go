package ports

import (
	"context"

	"hyperstream/internal/domain"
)

// ContentSource is a streamable content item whose bytes may not all be on
// disk yet.
type ContentSource interface {
	Metadata(ctx context.Context) (domain.SourceMetadata, error)
	// EnsureAvailable blocks until the byte at offset is materialized on disk.
	EnsureAvailable(ctx context.Context, offset int64) error
	// ReadWindow reads length bytes at offset. Only valid after
	// EnsureAvailable succeeded for every piece the window touches.
	ReadWindow(offset, length int64) ([]byte, error)
	TotalSize() int64
	PieceSize() int64
	Close() error
}

// ProgressReporter is implemented by sources that download in the background.
type ProgressReporter interface {
	Progress() float64
}

// DurationProber reports the playback duration of a media file in seconds.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}
