package usecase

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hyperstream/internal/metrics"
)

// SweepResult summarizes one retention pass.
type SweepResult struct {
	FilesRemoved int   `json:"filesRemoved"`
	BytesFreed   int64 `json:"bytesFreed"`
	DirsRemoved  int   `json:"dirsRemoved"`
	Errors       int   `json:"errors"`
}

func (r *SweepResult) add(o SweepResult) {
	r.FilesRemoved += o.FilesRemoved
	r.BytesFreed += o.BytesFreed
	r.DirsRemoved += o.DirsRemoved
	r.Errors += o.Errors
}

// RetentionSweeper deletes files older than TTL under each root and prunes
// the directories it leaves empty. Roots themselves are never removed.
type RetentionSweeper struct {
	Roots []string
	TTL   time.Duration
	// InUse reports files a live session is serving; they are kept.
	InUse  func(path string) bool
	Logger *slog.Logger
	Now    func() time.Time
}

// Run sweeps once immediately and then every interval until ctx is done.
func (rs RetentionSweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	rs.Sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.Sweep(ctx)
		}
	}
}

func (rs RetentionSweeper) Sweep(ctx context.Context) SweepResult {
	var total SweepResult
	for _, root := range rs.Roots {
		if ctx.Err() != nil {
			break
		}
		total.add(rs.sweepRoot(ctx, root))
		rs.recordFreeSpace(root)
	}

	metrics.RetentionFilesRemoved.Add(float64(total.FilesRemoved))
	metrics.RetentionBytesFreed.Add(float64(total.BytesFreed))
	metrics.RetentionErrors.Add(float64(total.Errors))

	level := slog.LevelDebug
	if total.FilesRemoved > 0 || total.DirsRemoved > 0 || total.Errors > 0 {
		level = slog.LevelInfo
	}
	rs.logger().Log(ctx, level, "retention: sweep finished",
		slog.Int("filesRemoved", total.FilesRemoved),
		slog.Int64("bytesFreed", total.BytesFreed),
		slog.Int("dirsRemoved", total.DirsRemoved),
		slog.Int("errors", total.Errors),
	)
	return total
}

func (rs RetentionSweeper) sweepRoot(ctx context.Context, root string) SweepResult {
	var res SweepResult
	logger := rs.logger()

	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		logger.Debug("retention: root skipped", slog.String("root", root))
		return res
	}

	now := rs.now()
	var dirs []string
	touched := make(map[string]bool)

	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			res.Errors++
			logger.Warn("retention: walk failed",
				slog.String("path", path),
				slog.String("error", walkErr.Error()),
			)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !d.Type().IsRegular() || isEngineState(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			res.Errors++
			return nil
		}
		if now.Sub(fileAge(info)) <= rs.TTL {
			return nil
		}
		if rs.InUse != nil && rs.InUse(path) {
			logger.Debug("retention: file in use, kept", slog.String("path", path))
			return nil
		}
		if err := os.Remove(path); err != nil {
			res.Errors++
			logger.Warn("retention: remove file failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		res.FilesRemoved++
		res.BytesFreed += info.Size()
		touched[filepath.Dir(path)] = true
		logger.Info("retention: file removed",
			slog.String("path", path),
			slog.Int64("bytes", info.Size()),
		)
		return nil
	})

	// WalkDir is pre-order, so walking dirs backwards visits children first.
	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				res.Errors++
			}
			continue
		}
		if len(entries) > 0 {
			continue
		}
		if !touched[dir] && !rs.expired(dir, now) {
			continue
		}
		if err := os.Remove(dir); err != nil {
			res.Errors++
			logger.Warn("retention: remove dir failed",
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.DirsRemoved++
		touched[filepath.Dir(dir)] = true
	}
	return res
}

func (rs RetentionSweeper) recordFreeSpace(root string) {
	free, err := diskFreeBytes(root)
	if err != nil {
		rs.logger().Debug("retention: free space unknown",
			slog.String("root", root),
			slog.String("error", err.Error()),
		)
		return
	}
	metrics.DiskFreeBytes.WithLabelValues(filepath.Clean(root)).Set(float64(free))
}

// isEngineState matches the download engine's piece-completion database
// (.torrent.db, .torrent.bolt.db and their journals).
func isEngineState(name string) bool {
	return strings.HasPrefix(name, ".torrent.")
}

func (rs RetentionSweeper) expired(path string, now time.Time) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return now.Sub(fileAge(info)) > rs.TTL
}

func (rs RetentionSweeper) now() time.Time {
	if rs.Now != nil {
		return rs.Now()
	}
	return time.Now()
}

func (rs RetentionSweeper) logger() *slog.Logger {
	if rs.Logger != nil {
		return rs.Logger
	}
	return slog.Default()
}
