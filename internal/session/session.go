package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
	"hyperstream/internal/source"
)

// Session binds a stream id to the content source it serves.
type Session struct {
	id        string
	kind      domain.SourceKind
	src       ports.ContentSource
	createdAt time.Time
	logger    *slog.Logger

	mu            sync.RWMutex
	state         domain.StreamState
	meta          domain.SourceMetadata
	metaKnown     bool
	metaErr       error
	convertedPath string
	converted     *source.FileBacked
	duration      float64

	convertOnce sync.Once
	probes      singleflight.Group
}

func New(id string, kind domain.SourceKind, src ports.ContentSource, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		kind:      kind,
		src:       src,
		createdAt: time.Now().UTC(),
		logger:    logger.With(slog.String("streamId", id)),
		state:     domain.StateInitializing,
	}
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) Kind() domain.SourceKind     { return s.kind }
func (s *Session) Source() ports.ContentSource { return s.src }

func (s *Session) State() domain.StreamState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transition moves the session to the given state. Moving to the current
// state is a no-op.
func (s *Session) Transition(to domain.StreamState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to domain.StreamState) error {
	if s.state == to {
		return nil
	}
	if !domain.CanTransition(s.state, to) {
		return fmt.Errorf("%w: %s -> %s for session %s", domain.ErrInvalidTransition, s.state, to, s.id)
	}
	s.logger.Debug("session state changed",
		slog.String("from", string(s.state)),
		slog.String("to", string(to)),
	)
	s.state = to
	return nil
}

// Metadata returns the source metadata, resolving it on first use. A
// successful resolution moves an initializing session to ready.
func (s *Session) Metadata(ctx context.Context) (domain.SourceMetadata, error) {
	s.mu.RLock()
	if s.metaKnown {
		meta := s.meta
		s.mu.RUnlock()
		return meta, nil
	}
	closed := s.state == domain.StateClosed
	s.mu.RUnlock()
	if closed {
		return domain.SourceMetadata{}, domain.ErrSessionClosed
	}

	meta, err := s.src.Metadata(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if ctx.Err() == nil {
			s.metaErr = err
		}
		return domain.SourceMetadata{}, err
	}
	if !s.metaKnown {
		s.meta = meta
		s.metaKnown = true
		s.metaErr = nil
		if s.state == domain.StateInitializing {
			_ = s.transitionLocked(domain.StateReady)
		}
	}
	return s.meta, nil
}

// MarkConverted records the converted artifact and moves to converted.
func (s *Session) MarkConverted(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(domain.StateConverted); err != nil {
		return err
	}
	s.convertedPath = path
	return nil
}

func (s *Session) ConvertedPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convertedPath
}

// ConvertedSource opens the converted artifact lazily and keeps it for the
// session's lifetime. A closed session never reopens it.
func (s *Session) ConvertedSource() (ports.ContentSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == domain.StateClosed {
		return nil, domain.ErrSessionClosed
	}
	if s.convertedPath == "" {
		return nil, fmt.Errorf("session %s has no converted artifact", s.id)
	}
	if s.converted != nil {
		return s.converted, nil
	}
	fb, err := source.OpenFile(s.convertedPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceRead, err)
	}
	s.converted = fb
	return fb, nil
}

// ConvertOnce runs fn at most once per session.
func (s *Session) ConvertOnce(fn func()) {
	s.convertOnce.Do(fn)
}

// Duration probes the playback duration of path once. Concurrent callers share
// a single probe; only successful results are cached.
func (s *Session) Duration(ctx context.Context, prober ports.DurationProber, path string) (float64, error) {
	s.mu.RLock()
	d := s.duration
	s.mu.RUnlock()
	if d > 0 {
		return d, nil
	}

	v, err, _ := s.probes.Do(path, func() (any, error) {
		d, err := prober.Duration(ctx, path)
		if err == nil && d > 0 {
			s.mu.Lock()
			s.duration = d
			s.mu.Unlock()
		}
		return d, err
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Progress reports download progress of the source, 1 for complete files.
func (s *Session) Progress() float64 {
	if pr, ok := s.src.(ports.ProgressReporter); ok {
		return pr.Progress()
	}
	return 0
}

// Serves reports whether path belongs to this live session.
func (s *Session) Serves(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == domain.StateClosed {
		return false
	}
	clean := filepath.Clean(path)
	if s.metaKnown && filepath.Clean(s.meta.Path) == clean {
		return true
	}
	return s.convertedPath != "" && filepath.Clean(s.convertedPath) == clean
}

func (s *Session) Snapshot() domain.SessionInfo {
	progress := s.Progress()

	s.mu.RLock()
	defer s.mu.RUnlock()
	info := domain.SessionInfo{
		ID:        s.id,
		Kind:      s.kind,
		State:     s.state,
		Progress:  progress,
		Converted: s.convertedPath != "",
		CreatedAt: s.createdAt,
	}
	if s.metaKnown {
		info.Name = s.meta.Name
		info.Container = s.meta.Container
		info.TotalSize = s.meta.Size
		info.PieceSize = s.meta.PieceSize
		info.NeedsConvert = domain.NeedsConversion(s.meta.Container)
	}
	if s.metaErr != nil {
		info.MetadataError = s.metaErr.Error()
	}
	return info
}

// Close moves the session to closed and releases its sources.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		return nil
	}
	_ = s.transitionLocked(domain.StateClosed)
	converted := s.converted
	s.converted = nil
	s.mu.Unlock()

	var firstErr error
	if converted != nil {
		firstErr = converted.Close()
	}
	if err := s.src.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.logger.Info("session closed")
	return firstErr
}
