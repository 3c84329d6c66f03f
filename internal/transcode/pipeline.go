package transcode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"hyperstream/internal/metrics"
	"hyperstream/internal/telemetry"
)

// ChunkSize is the size of a single chunk returned by Stream.Next.
const ChunkSize = 64 << 10

// Job describes one per-request transcode.
type Job struct {
	StreamID  string
	Input     string
	StartByte int64
	FileSize  int64
	Duration  float64 // seconds; 0 when unknown
}

// Pipeline spawns per-request transcodes, bounded by a slot count.
type Pipeline struct {
	opts   Options
	slots  *semaphore.Weighted
	logger *slog.Logger
}

func NewPipeline(opts Options, maxJobs int64, logger *slog.Logger) *Pipeline {
	if maxJobs <= 0 {
		maxJobs = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		opts:   opts.withDefaults(),
		slots:  semaphore.NewWeighted(maxJobs),
		logger: logger,
	}
}

// Open waits for a free slot, then starts ffmpeg anchored at the time offset
// matching job.StartByte. The caller must Close the returned stream.
func (p *Pipeline) Open(ctx context.Context, job Job) (*Stream, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	seek := SeekOffset(job.StartByte, job.FileSize, job.Duration)
	_, finish := telemetry.StartSpan(ctx, "transcode.open",
		attribute.String("streamId", job.StreamID),
		attribute.Float64("seekSeconds", seek),
	)

	proc, err := startProcess(ctx, p.opts.FFmpegPath, BuildStreamArgs(job.Input, seek, p.opts))
	finish(err)
	if err != nil {
		p.slots.Release(1)
		metrics.TranscodeFailuresTotal.WithLabelValues("spawn").Inc()
		p.logger.Error("transcode spawn failed",
			slog.String("streamId", job.StreamID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	metrics.TranscodeStartsTotal.Inc()
	metrics.TranscodeActiveJobs.Inc()
	p.logger.Info("transcode started",
		slog.String("streamId", job.StreamID),
		slog.Float64("seekSeconds", seek),
		slog.Int64("startByte", job.StartByte),
	)

	return &Stream{
		ctx:     ctx,
		proc:    proc,
		buf:     make([]byte, ChunkSize),
		started: time.Now(),
		release: func() {
			metrics.TranscodeActiveJobs.Dec()
			p.slots.Release(1)
		},
		logger: p.logger.With(slog.String("streamId", job.StreamID)),
	}, nil
}

// Stream is the output of one running transcode: a finite, non-restartable
// chunk sequence.
type Stream struct {
	ctx     context.Context
	proc    *process
	buf     []byte
	started time.Time
	release func()
	logger  *slog.Logger

	closeOnce sync.Once
	total     int64
}

// Next returns the next chunk of output. The slice is only valid until the
// following call. io.EOF marks a clean end of output.
func (s *Stream) Next() ([]byte, error) {
	for {
		n, err := s.proc.stdout.Read(s.buf)
		if n > 0 {
			s.total += int64(n)
			return s.buf[:n], nil
		}
		if err == nil {
			continue
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err == io.EOF {
			if exitErr := s.proc.exitError(); exitErr != nil {
				if ctxErr := s.ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				metrics.TranscodeFailuresTotal.WithLabelValues("runtime").Inc()
				return nil, exitErr
			}
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read transcode output: %w", err)
	}
}

// Close terminates the process (interrupt, then kill after a grace period),
// reaps it and frees the slot. Safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.proc.stop()
		s.release()
		s.logger.Debug("transcode closed",
			slog.Int64("bytes", s.total),
			slog.Duration("elapsed", time.Since(s.started)),
		)
	})
	return nil
}
