package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/singleflight"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
	"hyperstream/internal/services/torrent/fetch"
	"hyperstream/internal/session"
	"hyperstream/internal/source"
	"hyperstream/internal/transcode"
)

// TorrentFetcher downloads a .torrent file to dest, reusing an existing copy.
type TorrentFetcher interface {
	Fetch(ctx context.Context, rawURL, dest string) (bool, error)
}

// InitRequest names the content to stream. Exactly one identifier form is
// honored, in the order torrentUrl, contentHash, localPath.
type InitRequest struct {
	TorrentURL  string `json:"torrentUrl"`
	ContentHash string `json:"contentHash"`
	DisplayName string `json:"displayName"`
	LocalPath   string `json:"localPath"`
}

type InitResult struct {
	StreamID string             `json:"streamId"`
	State    domain.StreamState `json:"state"`
	// Created is false when the session already existed.
	Created bool `json:"-"`
}

// InitStream resolves an identifier to a stream session, creating it when
// needed. Concurrent inits for the same id share one creation.
type InitStream struct {
	Registry        *session.Registry
	Engine          ports.TorrentEngine
	Fetcher         TorrentFetcher
	Watcher         *ConversionWatcher
	MediaRoot       string
	TorrentFilesDir string
	Trackers        []string
	Source          source.TorrentConfig
	Logger          *slog.Logger
	// Background bounds goroutines started for new sessions. Defaults to
	// context.Background.
	Background context.Context

	group singleflight.Group
}

func (uc *InitStream) Execute(ctx context.Context, req InitRequest) (InitResult, error) {
	switch {
	case strings.TrimSpace(req.TorrentURL) != "":
		return uc.initFromURL(ctx, req.TorrentURL)
	case strings.TrimSpace(req.ContentHash) != "":
		return uc.initFromHash(ctx, req.ContentHash, req.DisplayName)
	case strings.TrimSpace(req.LocalPath) != "":
		return uc.initLocal(ctx, req.LocalPath)
	default:
		return InitResult{}, fmt.Errorf("%w: one of torrentUrl, contentHash or localPath is required", domain.ErrBadIdentifier)
	}
}

// ExecuteUpload initializes a session from an uploaded .torrent file. Each
// upload is staged under a unique name until its infohash is known.
func (uc *InitStream) ExecuteUpload(ctx context.Context, filename string, r io.Reader) (InitResult, error) {
	if err := os.MkdirAll(uc.TorrentFilesDir, 0o755); err != nil {
		return InitResult{}, fmt.Errorf("create torrent dir: %w", err)
	}
	f, err := os.CreateTemp(uc.TorrentFilesDir, "upload-*.torrent")
	if err != nil {
		return InitResult{}, fmt.Errorf("stage upload: %w", err)
	}
	staged := f.Name()
	_ = f.Close()
	defer os.Remove(staged)

	if err := fetch.Store(r, staged); err != nil {
		if errors.Is(err, domain.ErrBadIdentifier) {
			return InitResult{}, err
		}
		return InitResult{}, fmt.Errorf("%w: %v", domain.ErrBadIdentifier, err)
	}
	hash, err := fetch.InfoHash(staged)
	if err != nil {
		return InitResult{}, err
	}
	dest := filepath.Join(uc.TorrentFilesDir, hash+".torrent")
	if err := os.Rename(staged, dest); err != nil {
		return InitResult{}, fmt.Errorf("store torrent: %w", err)
	}
	uc.logger().Debug("init: torrent upload stored",
		slog.String("filename", filename),
		slog.String("path", dest),
	)
	return uc.openTorrent(ctx, hash, domain.TorrentSpec{TorrentFile: dest})
}

func (uc *InitStream) initFromURL(ctx context.Context, rawURL string) (InitResult, error) {
	if uc.Fetcher == nil {
		return InitResult{}, fmt.Errorf("%w: torrent download not configured", domain.ErrBadIdentifier)
	}
	dest := filepath.Join(uc.TorrentFilesDir, torrentCacheName(rawURL))
	cached, err := uc.Fetcher.Fetch(ctx, rawURL, dest)
	if err != nil {
		if errors.Is(err, domain.ErrBadIdentifier) {
			return InitResult{}, err
		}
		return InitResult{}, fmt.Errorf("%w: %v", domain.ErrBadIdentifier, err)
	}
	hash, err := fetch.InfoHash(dest)
	if err != nil {
		return InitResult{}, err
	}
	uc.logger().Debug("init: torrent file resolved",
		slog.String("url", rawURL),
		slog.String("path", dest),
		slog.Bool("cached", cached),
	)
	return uc.openTorrent(ctx, hash, domain.TorrentSpec{TorrentFile: dest})
}

func (uc *InitStream) initFromHash(ctx context.Context, contentHash, displayName string) (InitResult, error) {
	hash, err := NormalizeInfoHash(contentHash)
	if err != nil {
		return InitResult{}, err
	}
	trackers := uc.Trackers
	if len(trackers) == 0 {
		trackers = defaultTrackers
	}
	return uc.openTorrent(ctx, hash, domain.TorrentSpec{Magnet: BuildMagnet(hash, displayName, trackers)})
}

func (uc *InitStream) openTorrent(ctx context.Context, id string, spec domain.TorrentSpec) (InitResult, error) {
	if uc.Engine == nil {
		return InitResult{}, wrapEngine(errors.New("torrent engine not configured"))
	}
	return uc.once(id, nil, func() (*session.Session, error) {
		handle, err := uc.Engine.Add(ctx, spec)
		if err != nil {
			return nil, wrapEngine(err)
		}
		src := source.NewTorrentBacked(handle, uc.Source, uc.logger())
		return session.New(id, domain.SourceTorrent, src, uc.logger()), nil
	})
}

func (uc *InitStream) initLocal(ctx context.Context, localPath string) (InitResult, error) {
	abs, rel, err := resolveMediaPath(uc.MediaRoot, localPath)
	if err != nil {
		return InitResult{}, err
	}
	id := localStreamID(rel)
	owns := func(s *session.Session) bool { return s.Serves(abs) }
	return uc.once(id, owns, func() (*session.Session, error) {
		src, err := source.OpenFile(abs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrBadIdentifier, err)
		}
		s := session.New(id, domain.SourceFile, src, uc.logger())
		if _, err := s.Metadata(ctx); err != nil {
			_ = src.Close()
			return nil, err
		}
		if domain.NeedsConversion(filepath.Ext(abs)) && transcode.HasConverted(abs) {
			if err := s.MarkConverted(transcode.ConvertedPath(abs)); err != nil {
				uc.logger().Warn("init: cannot reuse converted file",
					slog.String("path", abs),
					slog.String("error", err.Error()),
				)
			}
		}
		return s, nil
	})
}

// once returns the session registered under id, or builds and registers a
// new one. An existing session is only returned when owns accepts it (nil
// accepts any). Only the caller whose build ran reports Created.
func (uc *InitStream) once(id string, owns func(*session.Session) bool, build func() (*session.Session, error)) (InitResult, error) {
	existing := func(s *session.Session) (InitResult, error) {
		if owns != nil && !owns(s) {
			return InitResult{}, fmt.Errorf("%w: stream id %s is bound to another source (%w)", domain.ErrBadIdentifier, id, domain.ErrAlreadyExists)
		}
		return InitResult{StreamID: id, State: s.State()}, nil
	}
	ran := false
	v, err, _ := uc.group.Do(id, func() (any, error) {
		ran = true
		if s, ok := uc.Registry.Get(id); ok {
			return existing(s)
		}
		s, err := build()
		if err != nil {
			return nil, err
		}
		if err := uc.Registry.Create(s); err != nil {
			_ = s.Close()
			if other, ok := uc.Registry.Get(id); ok {
				return existing(other)
			}
			return nil, err
		}
		uc.logger().Info("init: session created",
			slog.String("streamId", id),
			slog.String("kind", string(s.Kind())),
		)
		uc.startBackground(s)
		return InitResult{StreamID: id, State: s.State(), Created: true}, nil
	})
	if err != nil {
		return InitResult{}, err
	}
	res := v.(InitResult)
	res.Created = res.Created && ran
	return res, nil
}

func (uc *InitStream) startBackground(s *session.Session) {
	if s.Kind() != domain.SourceTorrent {
		return
	}
	ctx := uc.Background
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		if _, err := s.Metadata(ctx); err != nil {
			uc.logger().Warn("init: metadata resolve failed",
				slog.String("streamId", s.ID()),
				slog.String("error", err.Error()),
			)
		}
	}()
	if uc.Watcher != nil {
		go uc.Watcher.Watch(ctx, s)
	}
}

func (uc *InitStream) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}

// resolveMediaPath resolves p against root and rejects paths that escape it.
// It returns the absolute path and the root-relative path.
func resolveMediaPath(root, p string) (string, string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", "", fmt.Errorf("resolve media root: %w", err)
	}
	p = strings.TrimSpace(p)
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(rootAbs, p)
	}
	rel, err := filepath.Rel(rootAbs, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: path %q is outside the media root", domain.ErrBadIdentifier, p)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", domain.ErrBadIdentifier, err)
	}
	if !info.Mode().IsRegular() {
		return "", "", fmt.Errorf("%w: %q is not a regular file", domain.ErrBadIdentifier, p)
	}
	return abs, filepath.ToSlash(rel), nil
}
