package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Info is the subset of container metadata the streaming path needs.
type Info struct {
	Duration   float64 // seconds; 0 when unknown
	VideoCodec string  // first video stream
	AudioCodec string  // first audio stream
	Language   string  // language tag of the first audio stream
}

var ErrNoDuration = errors.New("ffprobe reported no duration")

type Prober struct {
	binary string
}

func New(binary string) *Prober {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffprobe"
	}
	return &Prober{binary: bin}
}

func (p *Prober) Probe(ctx context.Context, filePath string) (Info, error) {
	path := strings.TrimSpace(filePath)
	if path == "" {
		return Info{}, errors.New("file path is required")
	}

	return p.runProbe(ctx, []string{
		"-v", "quiet",
		"-probesize", "100M",
		"-analyzeduration", "100M",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	})
}

// Duration returns the container duration in seconds.
func (p *Prober) Duration(ctx context.Context, filePath string) (float64, error) {
	info, err := p.Probe(ctx, filePath)
	if err != nil {
		return 0, err
	}
	if info.Duration <= 0 {
		return 0, ErrNoDuration
	}
	return info.Duration, nil
}

const maxProbeTimeout = 30 * time.Second

func (p *Prober) runProbe(ctx context.Context, args []string) (Info, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxProbeTimeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.binary, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	info, parseErr := parseProbeOutput(stdout.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return Info{}, probeFailure(runErr, stderr.String())
		}
		return Info{}, fmt.Errorf("ffprobe output parse failed: %w", parseErr)
	}

	// ffprobe can exit non-zero on partially downloaded files and still print
	// a usable format section. Keep the result if it carries a duration.
	if runErr != nil && info.Duration <= 0 {
		return Info{}, probeFailure(runErr, stderr.String())
	}

	return info, nil
}

func probeFailure(runErr error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return fmt.Errorf("ffprobe failed: %w", runErr)
	}
	return fmt.Errorf("ffprobe failed: %w: %s", runErr, msg)
}

type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string            `json:"codec_type"`
	CodecName string            `json:"codec_name"`
	Tags      map[string]string `json:"tags"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

func parseProbeOutput(data []byte) (Info, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Info{}, err
	}

	var info Info
	for _, stream := range payload.Streams {
		switch stream.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = stream.CodecName
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = stream.CodecName
				info.Language = strings.TrimSpace(getTag(stream.Tags, "language"))
			}
		}
	}

	if payload.Format.Duration != "" {
		if d, err := strconv.ParseFloat(payload.Format.Duration, 64); err == nil && d > 0 {
			info.Duration = d
		}
	}
	return info, nil
}

func getTag(tags map[string]string, key string) string {
	if len(tags) == 0 {
		return ""
	}
	if value, ok := tags[key]; ok {
		return value
	}
	if value, ok := tags[strings.ToUpper(key)]; ok {
		return value
	}
	if value, ok := tags[strings.ToLower(key)]; ok {
		return value
	}
	return ""
}
