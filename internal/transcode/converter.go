package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"hyperstream/internal/domain"
	"hyperstream/internal/metrics"
	"hyperstream/internal/services/torrent/engine/ffprobe"
	"hyperstream/internal/telemetry"
)

// CodecProber reports the codecs of a media file.
type CodecProber interface {
	Probe(ctx context.Context, path string) (ffprobe.Info, error)
}

// Converter turns a whole file into a sibling MP4. Concurrent conversions of
// the same output are coalesced.
type Converter struct {
	opts   Options
	prober CodecProber
	logger *slog.Logger
	group  singleflight.Group
}

func NewConverter(opts Options, prober CodecProber, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{opts: opts.withDefaults(), prober: prober, logger: logger}
}

// ConvertedPath returns the sibling MP4 path for input.
func ConvertedPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + domain.ConvertedExt
}

// Convert writes ConvertedPath(input) unless it already exists. A stream copy
// is attempted first; on failure the file is re-encoded. Output appears
// atomically via rename.
func (c *Converter) Convert(ctx context.Context, input string) (string, error) {
	output := ConvertedPath(input)
	if output == input {
		return output, nil
	}
	v, err, _ := c.group.Do(output, func() (any, error) {
		return output, c.convert(ctx, input, output)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Converter) convert(ctx context.Context, input, output string) (err error) {
	if info, statErr := os.Stat(output); statErr == nil && info.Size() > 0 {
		return nil
	}

	ctx, finish := telemetry.StartSpan(ctx, "transcode.convert", attribute.String("input", input))
	defer func() { finish(err) }()

	copyVideo, copyAudio := c.copyPlan(ctx, input)
	tmp := output + ".tmp"
	defer os.Remove(tmp)

	start := time.Now()
	result := "reencode"
	if copyVideo {
		runErr := c.run(ctx, buildConvertArgs(input, tmp, true, copyAudio, c.opts))
		if runErr == nil {
			result = "copy"
		} else {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Info("conversion: stream copy failed, re-encoding",
				slog.String("input", input),
				slog.String("error", runErr.Error()),
			)
			copyVideo = false
		}
	}
	if !copyVideo {
		if runErr := c.run(ctx, buildConvertArgs(input, tmp, false, false, c.opts)); runErr != nil {
			metrics.ConversionsTotal.WithLabelValues("failed").Inc()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s: %v", domain.ErrConversion, input, runErr)
		}
	}

	if err := os.Rename(tmp, output); err != nil {
		metrics.ConversionsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: rename: %v", domain.ErrConversion, err)
	}
	metrics.ConversionsTotal.WithLabelValues(result).Inc()
	c.logger.Info("conversion: complete",
		slog.String("output", output),
		slog.String("mode", result),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// copyPlan decides whether video and audio can be remuxed as-is. Without a
// prober, or when probing fails, a video copy is still attempted.
func (c *Converter) copyPlan(ctx context.Context, input string) (copyVideo, copyAudio bool) {
	if c.prober == nil {
		return true, false
	}
	info, err := c.prober.Probe(ctx, input)
	if err != nil {
		return true, false
	}
	return canCopyVideo(info.VideoCodec), info.AudioCodec == "aac"
}

func canCopyVideo(codec string) bool {
	switch codec {
	case "", "h264":
		return true
	default:
		return false
	}
}

func (c *Converter) run(ctx context.Context, args []string) error {
	proc, err := startProcess(ctx, c.opts.FFmpegPath, args)
	if err != nil {
		return err
	}
	defer proc.stdout.Close()
	<-proc.done
	if proc.waitErr == nil {
		return nil
	}
	if tail := proc.stderr.String(); tail != "" {
		return fmt.Errorf("%v: %s", proc.waitErr, tail)
	}
	return proc.waitErr
}

// HasConverted reports whether a non-empty converted sibling of input exists.
func HasConverted(input string) bool {
	out := ConvertedPath(input)
	if out == input {
		return false
	}
	info, err := os.Stat(out)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
