package apihttp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"hyperstream/internal/domain"
	"hyperstream/internal/source"
	"hyperstream/internal/transcode"
	"hyperstream/internal/usecase"
)

// chunkStream is a running transcode as seen by the response builder.
type chunkStream interface {
	Next() ([]byte, error)
	Close() error
}

type openTranscodeFunc func(ctx context.Context, job transcode.Job) (chunkStream, error)

func pipelineOpener(p *transcode.Pipeline) openTranscodeFunc {
	return func(ctx context.Context, job transcode.Job) (chunkStream, error) {
		stream, err := p.Open(ctx, job)
		if err != nil {
			return nil, err
		}
		return stream, nil
	}
}

// serveStream answers GET and HEAD on /stream.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, id string) {
	plan, err := s.stream.Plan(r.Context(), id)
	if err != nil {
		writeStreamError(w, err)
		return
	}
	if plan.Transcode {
		s.serveTranscoded(w, r, plan)
		return
	}
	s.servePassthrough(w, r, plan)
}

func (s *Server) servePassthrough(w http.ResponseWriter, r *http.Request, plan usecase.StreamPlan) {
	ctx := r.Context()
	size := plan.Meta.Size
	rangeHeader := strings.TrimSpace(r.Header.Get("Range"))

	if size == 0 && rangeHeader == "" {
		w.Header().Set("Content-Type", plan.ContentType)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	}

	rng, err := domain.ParseRange(rangeHeader, size)
	if errors.Is(err, domain.ErrRangeNotSatisfiable) {
		writeRangeNotSatisfiable(w, size)
		return
	}
	if err != nil {
		writeStreamError(w, err)
		return
	}

	if r.Method != http.MethodHead {
		if err := plan.Source.EnsureAvailable(ctx, rng.Start); err != nil {
			if ctx.Err() != nil {
				return
			}
			writeStreamError(w, err)
			return
		}
	}

	h := w.Header()
	h.Set("Content-Type", plan.ContentType)
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	status := http.StatusOK
	if rangeHeader != "" {
		h.Set("Content-Range", rng.ContentRange(size))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	if err := writeWindows(ctx, w, plan, rng); err != nil {
		s.abortStream(ctx, plan.Session.ID(), err)
	}
}

// writeWindows copies rng to w one window at a time. The first window was
// already ensured by the caller.
func writeWindows(ctx context.Context, w http.ResponseWriter, plan usecase.StreamPlan, rng domain.RangeSpec) error {
	rc := http.NewResponseController(w)
	for offset := rng.Start; offset <= rng.End; {
		if offset != rng.Start {
			if err := plan.Source.EnsureAvailable(ctx, offset); err != nil {
				return err
			}
		}
		n := source.WindowLength(plan.Meta, offset, rng.End)
		buf, err := plan.Source.ReadWindow(offset, n)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
		_ = rc.Flush()
		offset += n
	}
	return nil
}

func (s *Server) serveTranscoded(w http.ResponseWriter, r *http.Request, plan usecase.StreamPlan) {
	ctx := r.Context()
	var start int64
	if rangeHeader := strings.TrimSpace(r.Header.Get("Range")); rangeHeader != "" {
		rng, err := domain.ParseRange(rangeHeader, plan.Meta.Size)
		if errors.Is(err, domain.ErrRangeNotSatisfiable) {
			writeRangeNotSatisfiable(w, plan.Meta.Size)
			return
		}
		if err != nil {
			writeStreamError(w, err)
			return
		}
		start = rng.Start
	}

	h := w.Header()
	h.Set("Content-Type", domain.ContentType(".mp4"))
	h.Set("Accept-Ranges", "none")
	h.Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	if s.openTranscode == nil {
		writeError(w, http.StatusServiceUnavailable, "transcode_unavailable", "transcoding is not configured")
		return
	}

	// ffmpeg reads the file from disk, so the bytes at the seek point must
	// exist before it starts. Only that piece is ensured: on a torrent still
	// downloading, ffmpeg can read ahead into pieces not yet written and
	// fail or stop early. The client retries from a later offset.
	if err := plan.Source.EnsureAvailable(ctx, start); err != nil {
		if ctx.Err() != nil {
			return
		}
		writeStreamError(w, err)
		return
	}

	stream, err := s.openTranscode(ctx, s.stream.TranscodeJob(ctx, plan, start))
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		writeStreamError(w, err)
		return
	}
	defer stream.Close()

	chunk, err := stream.Next()
	if err != nil && !errors.Is(err, io.EOF) {
		if ctx.Err() != nil {
			return
		}
		writeStreamError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for err == nil {
		if _, werr := w.Write(chunk); werr != nil {
			s.abortStream(ctx, plan.Session.ID(), werr)
		}
		_ = rc.Flush()
		chunk, err = stream.Next()
	}
	if !errors.Is(err, io.EOF) {
		s.abortStream(ctx, plan.Session.ID(), err)
	}
}

// abortStream drops the connection of a response whose headers are already
// out.
func (s *Server) abortStream(ctx context.Context, streamID string, err error) {
	level := slog.LevelWarn
	if ctx.Err() != nil {
		level = slog.LevelDebug
	}
	s.logger.LogAttrs(ctx, level, "stream aborted",
		slog.String("streamId", streamID),
		slog.String("error", err.Error()),
	)
	panic(http.ErrAbortHandler)
}
