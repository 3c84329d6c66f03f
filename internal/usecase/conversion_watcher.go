package usecase

import (
	"context"
	"log/slog"
	"time"

	"hyperstream/internal/domain"
	"hyperstream/internal/session"
)

// FileConverter turns a complete media file into a browser-native sibling
// and returns its path.
type FileConverter interface {
	Convert(ctx context.Context, input string) (string, error)
}

// ConversionWatcher follows a torrent-backed session until its file is
// complete, then converts it when the container is not browser-native.
type ConversionWatcher struct {
	Converter FileConverter
	Interval  time.Duration
	Logger    *slog.Logger
}

// Watch blocks until the session's file is complete and handled, the
// session is closed, or ctx is done.
func (w *ConversionWatcher) Watch(ctx context.Context, s *session.Session) {
	logger := w.logger().With(slog.String("streamId", s.ID()))

	meta, err := s.Metadata(ctx)
	if err != nil {
		logger.Warn("conversion: metadata unavailable, watcher stopped", slog.String("error", err.Error()))
		return
	}

	interval := w.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.State() == domain.StateClosed {
			return
		}
		if w.poll(ctx, s, meta) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll mirrors progress into the session state and reports whether watching
// is finished.
func (w *ConversionWatcher) poll(ctx context.Context, s *session.Session, meta domain.SourceMetadata) bool {
	if s.State() == domain.StateConverted {
		return true
	}
	if s.Progress() < 1 {
		_ = s.Transition(domain.StateDownloading)
		return false
	}
	_ = s.Transition(domain.StateReady)
	if !domain.NeedsConversion(meta.Container) || w.Converter == nil {
		return true
	}
	s.ConvertOnce(func() { w.convert(ctx, s, meta.Path) })
	return true
}

func (w *ConversionWatcher) convert(ctx context.Context, s *session.Session, input string) {
	logger := w.logger().With(slog.String("streamId", s.ID()))
	started := time.Now()

	output, err := w.Converter.Convert(ctx, input)
	if err != nil {
		logger.Error("conversion: failed, streaming stays on live transcode",
			slog.String("input", input),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := s.MarkConverted(output); err != nil {
		logger.Warn("conversion: session not updated",
			slog.String("output", output),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Info("conversion: completed",
		slog.String("output", output),
		slog.Int64("durationMs", time.Since(started).Milliseconds()),
	)
}

func (w *ConversionWatcher) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}
