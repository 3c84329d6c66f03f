package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
)

type TorrentConfig struct {
	MetadataTimeout  time.Duration
	PieceWaitTimeout time.Duration
	PollInterval     time.Duration
}

// TorrentBacked serves a file that the download engine is still fetching.
type TorrentBacked struct {
	handle ports.TorrentHandle
	cfg    TorrentConfig
	logger *slog.Logger

	mu     sync.RWMutex
	meta   domain.SourceMetadata
	known  bool
	file   *os.File
	closed bool

	closeOnce sync.Once
}

var (
	_ ports.ContentSource    = (*TorrentBacked)(nil)
	_ ports.ProgressReporter = (*TorrentBacked)(nil)
)

func NewTorrentBacked(handle ports.TorrentHandle, cfg TorrentConfig, logger *slog.Logger) *TorrentBacked {
	if logger == nil {
		logger = slog.Default()
	}
	return &TorrentBacked{handle: handle, cfg: cfg, logger: logger}
}

func (s *TorrentBacked) ID() string { return s.handle.ID() }

func (s *TorrentBacked) Metadata(ctx context.Context) (domain.SourceMetadata, error) {
	if meta, ok := s.cachedMeta(); ok {
		return meta, nil
	}

	waitCtx := ctx
	if s.cfg.MetadataTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.MetadataTimeout)
		defer cancel()
	}

	file, err := s.handle.WaitMetadata(waitCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.SourceMetadata{}, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.SourceMetadata{}, fmt.Errorf("%w: no metadata after %s", domain.ErrMetadataUnavailable, s.cfg.MetadataTimeout)
		}
		if errors.Is(err, domain.ErrMetadataUnavailable) {
			return domain.SourceMetadata{}, err
		}
		return domain.SourceMetadata{}, fmt.Errorf("%w: %v", domain.ErrMetadataUnavailable, err)
	}

	meta := domain.SourceMetadata{
		Name:       filepath.Base(filepath.FromSlash(file.Path)),
		Path:       s.handle.DataPath(file),
		Size:       file.Length,
		PieceSize:  s.handle.PieceSize(),
		FileOffset: file.Offset,
		Container:  strings.ToLower(filepath.Ext(file.Path)),
	}

	s.mu.Lock()
	if !s.known {
		s.meta = meta
		s.known = true
		s.logger.Info("torrent metadata resolved",
			slog.String("infoHash", s.handle.ID()),
			slog.String("file", meta.Name),
			slog.Int64("size", meta.Size),
			slog.Int64("pieceSize", meta.PieceSize),
		)
	}
	meta = s.meta
	s.mu.Unlock()
	return meta, nil
}

func (s *TorrentBacked) cachedMeta() (domain.SourceMetadata, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta, s.known
}

func (s *TorrentBacked) EnsureAvailable(ctx context.Context, offset int64) error {
	meta, ok := s.cachedMeta()
	if !ok {
		return domain.ErrMetadataUnavailable
	}
	if offset < 0 || offset >= meta.Size {
		return fmt.Errorf("%w: offset %d outside %d bytes", domain.ErrRangeNotSatisfiable, offset, meta.Size)
	}

	index := pieceIndex(meta.FileOffset, offset, meta.PieceSize)
	if s.handle.PieceComplete(index) {
		return nil
	}
	s.handle.PrioritizePiece(index)
	s.logger.Debug("waiting for piece",
		slog.String("infoHash", s.handle.ID()),
		slog.Int("piece", index),
		slog.Int64("offset", offset),
	)
	return waitPiece(ctx, s.handle, index, s.cfg.PieceWaitTimeout, s.cfg.PollInterval)
}

func (s *TorrentBacked) ReadWindow(offset, length int64) ([]byte, error) {
	meta, ok := s.cachedMeta()
	if !ok {
		return nil, domain.ErrMetadataUnavailable
	}
	if offset < 0 || length < 0 || offset+length > meta.Size {
		return nil, fmt.Errorf("%w: window %d+%d outside %d bytes", domain.ErrSourceRead, offset, length, meta.Size)
	}
	f, err := s.openFile(meta.Path)
	if err != nil {
		return nil, err
	}
	return readAt(f, offset, length)
}

func (s *TorrentBacked) openFile(path string) (*os.File, error) {
	s.mu.RLock()
	f := s.file
	s.mu.RUnlock()
	if f != nil {
		return f, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.file != nil {
		return s.file, nil
	}
	opened, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceRead, err)
	}
	s.file = opened
	return opened, nil
}

func (s *TorrentBacked) TotalSize() int64 {
	meta, _ := s.cachedMeta()
	return meta.Size
}

func (s *TorrentBacked) PieceSize() int64 {
	meta, _ := s.cachedMeta()
	return meta.PieceSize
}

func (s *TorrentBacked) Progress() float64 {
	return s.handle.Progress()
}

func (s *TorrentBacked) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.file != nil {
			err = s.file.Close()
			s.file = nil
		}
		s.mu.Unlock()
		s.handle.Drop()
	})
	return err
}
