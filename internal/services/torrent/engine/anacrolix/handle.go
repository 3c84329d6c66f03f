package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
)

// Handle is one torrent as seen by a single content source.
type Handle struct {
	engine *Engine
	t      *torrent.Torrent
	id     string

	mu       sync.RWMutex
	file     *torrent.File
	selected domain.TorrentFile

	dropOnce sync.Once
}

var (
	_ ports.TorrentHandle = (*Handle)(nil)
	_ ports.PieceAwaiter  = (*Handle)(nil)
)

func (h *Handle) ID() string { return h.id }

func (h *Handle) WaitMetadata(ctx context.Context) (domain.TorrentFile, error) {
	if h.t == nil {
		return domain.TorrentFile{}, domain.ErrMetadataUnavailable
	}

	h.mu.RLock()
	if h.file != nil {
		sel := h.selected
		h.mu.RUnlock()
		return sel, nil
	}
	h.mu.RUnlock()

	select {
	case <-h.t.GotInfo():
	case <-h.t.Closed():
		return domain.TorrentFile{}, fmt.Errorf("%w: torrent dropped", domain.ErrMetadataUnavailable)
	case <-ctx.Done():
		return domain.TorrentFile{}, ctx.Err()
	}

	files := h.t.Files()
	mapped := mapFiles(h.t)
	idx := selectStreamFile(mapped)
	if idx < 0 || idx >= len(files) {
		return domain.TorrentFile{}, fmt.Errorf("%w: torrent has no files", domain.ErrMetadataUnavailable)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		h.file = files[idx]
		h.selected = mapped[idx]
		h.file.Download()
	}
	return h.selected, nil
}

func (h *Handle) PieceSize() int64 {
	if !torrentInfoReady(h.t) {
		return 0
	}
	return int64(h.t.Info().PieceLength)
}

func (h *Handle) NumPieces() int {
	if !torrentInfoReady(h.t) {
		return 0
	}
	return h.t.NumPieces()
}

func (h *Handle) PieceComplete(index int) bool {
	if index < 0 || index >= h.NumPieces() {
		return false
	}
	return h.t.PieceState(index).Complete
}

// PrioritizePiece raises index to "now" and the next pieces of the selected
// file to readahead priorities.
func (h *Handle) PrioritizePiece(index int) {
	if index < 0 || index >= h.NumPieces() {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("prioritize piece recovered from panic",
				slog.Any("panic", rec),
				slog.String("infoHash", h.id),
			)
		}
	}()

	h.mu.RLock()
	sel, ok := h.selected, h.file != nil
	h.mu.RUnlock()

	last := h.NumPieces()
	if ok {
		if span, spanOK := pieceSpan(sel.Offset, sel.Length, 0, sel.Length, h.PieceSize(), h.NumPieces()); spanOK {
			last = span.end
		}
	}
	for i, prio := range readaheadPlan(index, last) {
		h.t.Piece(index + i).SetPriority(prio)
	}
}

// Progress reports completion of the selected file.
func (h *Handle) Progress() float64 {
	h.mu.RLock()
	f := h.file
	h.mu.RUnlock()
	if f == nil || f.Length() <= 0 {
		return 0
	}
	p := float64(f.BytesCompleted()) / float64(f.Length())
	if p > 1 {
		p = 1
	}
	return p
}

func (h *Handle) DataPath(file domain.TorrentFile) string {
	dir := ""
	if h.engine != nil {
		dir = h.engine.dataDir
	}
	return filepath.Join(dir, filepath.FromSlash(file.Path))
}

func (h *Handle) Drop() {
	h.dropOnce.Do(func() {
		if h.engine != nil {
			h.engine.drop(h.id)
			return
		}
		if h.t != nil {
			h.t.Drop()
		}
	})
}

// AwaitPiece blocks until piece index is complete. A reader positioned at the
// piece start blocks inside the client until data arrives; completion is then
// re-checked on a short poll because a readable chunk can precede hash
// verification of the whole piece.
//
// Do NOT call SetResponsive on this reader: a responsive reader returns as
// soon as any data is buffered and reports EOF past unverified pieces.
func (h *Handle) AwaitPiece(ctx context.Context, index int) error {
	if index < 0 || index >= h.NumPieces() {
		return fmt.Errorf("%w: piece %d out of range", domain.ErrPieceUnavailable, index)
	}
	if h.PieceComplete(index) {
		return nil
	}

	r := h.t.NewReader()
	defer r.Close()
	r.SetContext(ctx)
	r.SetReadahead(h.PieceSize())

	if _, err := r.Seek(int64(index)*h.PieceSize(), io.SeekStart); err != nil {
		return fmt.Errorf("seek to piece %d: %w", index, err)
	}
	var b [1]byte
	if _, err := r.Read(b[:]); err != nil && !errors.Is(err, io.EOF) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("read piece %d: %w", index, err)
	}

	interval := 500 * time.Millisecond
	if h.engine != nil && h.engine.pollInterval > 0 {
		interval = h.engine.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for !h.PieceComplete(index) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.t.Closed():
			return fmt.Errorf("%w: torrent dropped", domain.ErrPieceUnavailable)
		case <-ticker.C:
		}
	}
	return nil
}

func mapFiles(t *torrent.Torrent) (mapped []domain.TorrentFile) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.TorrentFile, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.TorrentFile{
			Index:  i,
			Path:   f.Path(),
			Length: f.Length(),
			Offset: f.Offset(),
		})
	}
	return mapped
}

// selectStreamFile picks the largest video file, or the largest file when the
// torrent carries no recognised video. Returns -1 for an empty list.
func selectStreamFile(files []domain.TorrentFile) int {
	best, bestVideo := -1, -1
	for i, f := range files {
		if best < 0 || f.Length > files[best].Length {
			best = i
		}
		if domain.IsVideo(filepath.Ext(f.Path)) {
			if bestVideo < 0 || f.Length > files[bestVideo].Length {
				bestVideo = i
			}
		}
	}
	if bestVideo >= 0 {
		return bestVideo
	}
	return best
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}
