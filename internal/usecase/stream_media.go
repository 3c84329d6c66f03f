package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
	"hyperstream/internal/session"
	"hyperstream/internal/transcode"
)

// StreamPlan tells the response builder how to serve one request.
type StreamPlan struct {
	Session     *session.Session
	Source      ports.ContentSource
	Meta        domain.SourceMetadata
	ContentType string
	// Transcode is set when the bytes must go through the live transcoder.
	Transcode bool
}

// StreamMedia resolves a stream id into a serving plan.
type StreamMedia struct {
	Registry *session.Registry
	Prober   ports.DurationProber
	Logger   *slog.Logger
}

func (uc StreamMedia) Plan(ctx context.Context, id string) (StreamPlan, error) {
	s, ok := uc.Registry.Get(id)
	if !ok {
		return StreamPlan{}, fmt.Errorf("%w: %s", domain.ErrUnknownSession, id)
	}

	if s.State() == domain.StateConverted {
		if src, err := s.ConvertedSource(); err == nil {
			meta, err := src.Metadata(ctx)
			if err == nil {
				return StreamPlan{
					Session:     s,
					Source:      src,
					Meta:        meta,
					ContentType: domain.ContentType(meta.Container),
				}, nil
			}
		} else {
			uc.logger().Warn("stream: converted file unavailable, serving original",
				slog.String("streamId", id),
				slog.String("error", err.Error()),
			)
		}
	}

	meta, err := s.Metadata(ctx)
	if err != nil {
		return StreamPlan{}, err
	}
	return StreamPlan{
		Session:     s,
		Source:      s.Source(),
		Meta:        meta,
		ContentType: domain.ContentType(meta.Container),
		Transcode:   domain.NeedsConversion(meta.Container),
	}, nil
}

// TranscodeJob builds the transcoder job for a request starting at
// startByte. A failed duration probe starts the output at 0.
func (uc StreamMedia) TranscodeJob(ctx context.Context, plan StreamPlan, startByte int64) transcode.Job {
	var duration float64
	if uc.Prober != nil {
		d, err := plan.Session.Duration(ctx, uc.Prober, plan.Meta.Path)
		if err != nil {
			uc.logger().Debug("stream: duration probe failed",
				slog.String("streamId", plan.Session.ID()),
				slog.String("error", err.Error()),
			)
		}
		duration = d
	}
	return transcode.Job{
		StreamID:  plan.Session.ID(),
		Input:     plan.Meta.Path,
		StartByte: startByte,
		FileSize:  plan.Meta.Size,
		Duration:  duration,
	}
}

func (uc StreamMedia) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}
