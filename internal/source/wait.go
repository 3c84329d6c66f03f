package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
	"hyperstream/internal/metrics"
	"hyperstream/internal/telemetry"
)

const (
	defaultPieceWaitTimeout = 60 * time.Second
	defaultPollInterval     = 500 * time.Millisecond
)

// pieceIndex maps a byte offset inside a file to the torrent piece holding it.
func pieceIndex(fileOffset, offset, pieceSize int64) int {
	if pieceSize <= 0 {
		return 0
	}
	return int((fileOffset + offset) / pieceSize)
}

// waitPiece blocks until the handle reports index complete, for at most
// timeout. Expiry of the bound yields ErrPieceUnavailable; cancellation of ctx
// is returned as the context error.
func waitPiece(ctx context.Context, h ports.TorrentHandle, index int, timeout, poll time.Duration) (err error) {
	if h.PieceComplete(index) {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultPieceWaitTimeout
	}

	ctx, finish := telemetry.StartSpan(ctx, "source.waitPiece",
		attribute.String("infoHash", h.ID()),
		attribute.Int("piece", index),
	)
	start := time.Now()
	defer func() {
		metrics.PieceWaitSeconds.Observe(time.Since(start).Seconds())
		finish(err)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if aw, ok := h.(ports.PieceAwaiter); ok {
		err = aw.AwaitPiece(waitCtx, index)
	} else {
		err = pollPiece(waitCtx, h, index, poll)
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		metrics.PieceWaitTimeouts.Inc()
		return fmt.Errorf("%w: piece %d not available after %s", domain.ErrPieceUnavailable, index, timeout)
	}
	return err
}

func pollPiece(ctx context.Context, h ports.TorrentHandle, index int, poll time.Duration) error {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for !h.PieceComplete(index) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
