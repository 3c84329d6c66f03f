package ports

import (
	"context"

	"hyperstream/internal/domain"
)

// TorrentEngine adds torrents to the external download engine.
type TorrentEngine interface {
	Add(ctx context.Context, spec domain.TorrentSpec) (TorrentHandle, error)
	Close() error
}

// TorrentHandle is one torrent inside the download engine. The engine owns
// peer wire, piece selection and disk allocation; callers only see piece
// availability.
type TorrentHandle interface {
	ID() string
	// WaitMetadata blocks until the engine knows the file list, then selects
	// the file to stream and starts downloading it.
	WaitMetadata(ctx context.Context) (domain.TorrentFile, error)
	PieceSize() int64
	NumPieces() int
	PieceComplete(index int) bool
	// PrioritizePiece asks the engine to fetch the piece before anything else.
	PrioritizePiece(index int)
	// Progress reports completion of the selected file in [0,1].
	Progress() float64
	// DataPath returns the on-disk location of a file inside the torrent.
	DataPath(file domain.TorrentFile) string
	Drop()
}

// PieceAwaiter is implemented by handles that can block on piece completion
// without polling.
type PieceAwaiter interface {
	AwaitPiece(ctx context.Context, index int) error
}
