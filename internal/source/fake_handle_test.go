package source

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"hyperstream/internal/domain"
)

// fakeHandle is an in-memory ports.TorrentHandle backed by a file on disk.
type fakeHandle struct {
	id        string
	dataDir   string
	file      domain.TorrentFile
	pieceSize int64
	numPieces int

	metaErr   error
	blockMeta bool

	mu          sync.Mutex
	complete    map[int]bool
	prioritized []int
	progress    float64
	dropped     atomic.Int32
}

func newFakeHandle(dataDir string, file domain.TorrentFile, pieceSize int64) *fakeHandle {
	total := file.Offset + file.Length
	return &fakeHandle{
		id:        "0123456789abcdef0123456789abcdef01234567",
		dataDir:   dataDir,
		file:      file,
		pieceSize: pieceSize,
		numPieces: int((total + pieceSize - 1) / pieceSize),
		complete:  make(map[int]bool),
	}
}

func (h *fakeHandle) ID() string { return h.id }

func (h *fakeHandle) WaitMetadata(ctx context.Context) (domain.TorrentFile, error) {
	if h.blockMeta {
		<-ctx.Done()
		return domain.TorrentFile{}, ctx.Err()
	}
	if h.metaErr != nil {
		return domain.TorrentFile{}, h.metaErr
	}
	return h.file, nil
}

func (h *fakeHandle) PieceSize() int64 { return h.pieceSize }
func (h *fakeHandle) NumPieces() int   { return h.numPieces }

func (h *fakeHandle) PieceComplete(index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.complete[index]
}

func (h *fakeHandle) setComplete(index int) {
	h.mu.Lock()
	h.complete[index] = true
	h.mu.Unlock()
}

func (h *fakeHandle) completeAll() {
	for i := 0; i < h.numPieces; i++ {
		h.setComplete(i)
	}
}

func (h *fakeHandle) PrioritizePiece(index int) {
	h.mu.Lock()
	h.prioritized = append(h.prioritized, index)
	h.mu.Unlock()
}

func (h *fakeHandle) prioritizedPieces() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.prioritized...)
}

func (h *fakeHandle) Progress() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

func (h *fakeHandle) DataPath(file domain.TorrentFile) string {
	return filepath.Join(h.dataDir, filepath.FromSlash(file.Path))
}

func (h *fakeHandle) Drop() { h.dropped.Add(1) }

// awaitingHandle adds a channel-driven ports.PieceAwaiter.
type awaitingHandle struct {
	*fakeHandle
	awaited atomic.Int32
	release chan struct{}
}

func (h *awaitingHandle) AwaitPiece(ctx context.Context, index int) error {
	h.awaited.Add(1)
	select {
	case <-h.release:
		h.setComplete(index)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
