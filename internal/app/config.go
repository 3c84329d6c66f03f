package app

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	TorrentDataDir     string
	TorrentFilesDir    string
	Trackers           []string
	MaxConns           int
	MetadataTimeout    time.Duration
	PieceWaitTimeout   time.Duration
	PiecePollInterval  time.Duration
	FFMPEGPath         string
	FFProbePath        string
	TranscodePreset    string
	TranscodeTune      string
	TranscodeAudioRate string
	TranscodeMaxJobs   int64
	ConversionPoll     time.Duration
	RetentionTTL       time.Duration
	RetentionInterval  time.Duration
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	OTelEndpoint       string
	OTelSampleRate     float64
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		TorrentDataDir:     getEnv("TORRENT_DATA_DIR", "data"),
		TorrentFilesDir:    getEnv("TORRENT_FILES_DIR", filepath.Join(os.TempDir(), "torrent_files")),
		Trackers:           getEnvList("TORRENT_TRACKERS", nil),
		MaxConns:           int(getEnvInt64("TORRENT_MAX_CONNS", 35)),
		MetadataTimeout:    time.Duration(getEnvInt64("METADATA_TIMEOUT_SECONDS", 120)) * time.Second,
		PieceWaitTimeout:   time.Duration(getEnvInt64("PIECE_WAIT_TIMEOUT_SECONDS", 60)) * time.Second,
		PiecePollInterval:  time.Duration(getEnvInt64("PIECE_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		FFMPEGPath:         getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath:        getEnv("FFPROBE_PATH", "ffprobe"),
		TranscodePreset:    getEnv("TRANSCODE_PRESET", "ultrafast"),
		TranscodeTune:      getEnv("TRANSCODE_TUNE", "zerolatency"),
		TranscodeAudioRate: getEnv("TRANSCODE_AUDIO_BITRATE", "128k"),
		TranscodeMaxJobs:   getEnvInt64("TRANSCODE_MAX_JOBS", 4),
		ConversionPoll:     time.Duration(getEnvInt64("CONVERSION_POLL_SECONDS", 10)) * time.Second,
		RetentionTTL:       time.Duration(getEnvInt64("RETENTION_TTL_HOURS", 720)) * time.Hour,
		RetentionInterval:  time.Duration(getEnvInt64("RETENTION_INTERVAL_MINUTES", 60)) * time.Minute,
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       float64(getEnvInt64("RATE_LIMIT_RPS", 100)),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 200)),
		OTelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTelSampleRate:     getEnvFloat("OTEL_TRACE_SAMPLE_RATE", 0.1),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 || parsed > 1 {
		return fallback
	}
	return parsed
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
