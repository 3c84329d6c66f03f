package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hyperstream/internal/domain"
)

// DefaultMaxBytes caps a downloaded .torrent file.
const DefaultMaxBytes = 10 << 20

var ErrTooLarge = errors.New("torrent file exceeds size limit")

// Fetcher downloads .torrent files into a cache directory.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
}

func New(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxBytes: DefaultMaxBytes,
	}
}

// Fetch stores the body of rawURL at dest unless dest already exists. It
// reports whether the cached copy was reused.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string) (bool, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false, fmt.Errorf("%w: torrent url %q", domain.ErrBadIdentifier, rawURL)
	}

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("create torrent dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("download torrent: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("download torrent: unexpected status %d", resp.StatusCode)
	}

	if err := store(resp.Body, dest, f.maxBytes); err != nil {
		return false, err
	}
	return false, nil
}

// Store writes an uploaded .torrent to dest after validating it. The write is
// atomic: dest either holds a valid torrent or is left untouched.
func Store(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create torrent dir: %w", err)
	}
	return store(r, dest, DefaultMaxBytes)
}

func store(r io.Reader, dest string, maxBytes int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*.torrent")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, io.LimitReader(r, maxBytes+1))
	closeErr := tmp.Close()
	if err != nil {
		return fmt.Errorf("read torrent: %w", err)
	}
	if closeErr != nil {
		return closeErr
	}
	if n > maxBytes {
		return ErrTooLarge
	}
	if _, err := InfoHash(tmpPath); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}

// InfoHash returns the lowercase hex infohash of a .torrent file.
func InfoHash(path string) (string, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: invalid torrent file: %v", domain.ErrBadIdentifier, err)
	}
	if len(mi.InfoBytes) == 0 {
		return "", fmt.Errorf("%w: torrent file has no info dictionary", domain.ErrBadIdentifier)
	}
	return strings.ToLower(mi.HashInfoBytes().HexString()), nil
}
