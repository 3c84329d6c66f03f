package transcode

import (
	"strconv"
)

// Options are the encoder settings shared by streaming and conversion.
type Options struct {
	FFmpegPath   string
	Preset       string
	Tune         string
	AudioBitrate string
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.Preset == "" {
		o.Preset = "ultrafast"
	}
	if o.Tune == "" {
		o.Tune = "zerolatency"
	}
	if o.AudioBitrate == "" {
		o.AudioBitrate = "128k"
	}
	return o
}

// SeekOffset maps a byte position to a time offset by assuming a constant
// bitrate. Returns 0 when size or duration is unknown.
func SeekOffset(startByte, fileSize int64, duration float64) float64 {
	if startByte <= 0 || fileSize <= 0 || duration <= 0 {
		return 0
	}
	if startByte >= fileSize {
		return duration
	}
	return float64(startByte) / float64(fileSize) * duration
}

// BuildStreamArgs constructs the argument list for a fragmented-MP4 transcode
// written to stdout. Pure function.
func BuildStreamArgs(input string, seekSeconds float64, opts Options) []string {
	opts = opts.withDefaults()
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
	}
	if seekSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(seekSeconds, 'f', 3, 64))
	}
	args = append(args,
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-preset", opts.Preset,
		"-tune", opts.Tune,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", opts.AudioBitrate,
		"-ac", "2",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		"pipe:1",
	)
	return args
}

// buildConvertArgs constructs a whole-file conversion into output. With
// copyVideo the video stream is remuxed; copyAudio does the same for audio.
func buildConvertArgs(input, output string, copyVideo, copyAudio bool, opts Options) []string {
	opts = opts.withDefaults()
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-map", "0:v:0",
		"-map", "0:a:0?",
	}
	if copyVideo {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args,
			"-c:v", "libx264",
			"-preset", opts.Preset,
			"-pix_fmt", "yuv420p",
		)
	}
	if copyAudio {
		args = append(args, "-c:a", "copy")
	} else {
		args = append(args, "-c:a", "aac", "-b:a", opts.AudioBitrate, "-ac", "2")
	}
	args = append(args,
		"-movflags", "+faststart",
		"-f", "mp4",
		output,
	)
	return args
}
