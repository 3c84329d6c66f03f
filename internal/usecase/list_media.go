package usecase

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hyperstream/internal/domain"
	"hyperstream/internal/transcode"
)

// ListMedia scans the media root for servable video files. A converted
// sibling is folded into its original instead of being listed twice.
type ListMedia struct {
	MediaRoot string
}

func (uc ListMedia) Execute(ctx context.Context) ([]domain.MediaItem, error) {
	root, err := filepath.Abs(uc.MediaRoot)
	if err != nil {
		return nil, err
	}

	items := make([]domain.MediaItem, 0)
	siblings := make(map[string]struct{})
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := filepath.Ext(name)
		if !domain.IsVideo(ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}

		item := domain.MediaItem{
			Name:            name,
			Path:            filepath.ToSlash(rel),
			Size:            info.Size(),
			NeedsConversion: domain.NeedsConversion(ext),
			ContentType:     domain.ContentType(ext),
			ModifiedAt:      info.ModTime().UTC(),
		}
		if item.NeedsConversion && transcode.HasConverted(path) {
			item.Converted = true
			siblings[transcode.ConvertedPath(path)] = struct{}{}
		}
		parsed := parseMediaName(item.Path)
		item.Title = parsed.title
		item.Kind = parsed.kind
		item.Season = parsed.season
		item.Episode = parsed.episode
		item.Year = parsed.year

		items = append(items, item)
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.MediaItem{}, nil
		}
		return nil, err
	}

	out := items[:0]
	for _, item := range items {
		if _, ok := siblings[filepath.Join(root, filepath.FromSlash(item.Path))]; ok {
			continue
		}
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}
