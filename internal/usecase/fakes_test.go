package usecase

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
)

// ---------------------------------------------------------------------------
// Torrent engine fakes
// ---------------------------------------------------------------------------

type fakeHandle struct {
	id      string
	dataDir string
	file    domain.TorrentFile

	mu       sync.Mutex
	progress float64
	dropped  atomic.Int32
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) WaitMetadata(context.Context) (domain.TorrentFile, error) {
	return h.file, nil
}
func (h *fakeHandle) PieceSize() int64       { return 256 }
func (h *fakeHandle) NumPieces() int         { return int((h.file.Length + 255) / 256) }
func (h *fakeHandle) PieceComplete(int) bool { return true }
func (h *fakeHandle) PrioritizePiece(int)    {}
func (h *fakeHandle) Drop()                  { h.dropped.Add(1) }
func (h *fakeHandle) DataPath(f domain.TorrentFile) string {
	return filepath.Join(h.dataDir, filepath.FromSlash(f.Path))
}
func (h *fakeHandle) Progress() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

type fakeEngine struct {
	dataDir string
	err     error
	delay   time.Duration

	mu    sync.Mutex
	specs []domain.TorrentSpec
}

func (e *fakeEngine) Add(_ context.Context, spec domain.TorrentSpec) (ports.TorrentHandle, error) {
	time.Sleep(e.delay)
	e.mu.Lock()
	e.specs = append(e.specs, spec)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return &fakeHandle{
		id:      "fake",
		dataDir: e.dataDir,
		file:    domain.TorrentFile{Path: "Movie/movie.mp4", Length: 1000},
	}, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) added() []domain.TorrentSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TorrentSpec(nil), e.specs...)
}

type fakeFetcher struct {
	payload []byte
	err     error
	calls   atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, dest string) (bool, error) {
	f.calls.Add(1)
	if f.err != nil {
		return false, f.err
	}
	if _, err := os.Stat(dest); err == nil {
		return true, nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, err
	}
	return false, os.WriteFile(dest, f.payload, 0o644)
}

// testTorrent returns a valid .torrent payload and its lowercase infohash.
func testTorrent(t *testing.T) ([]byte, string) {
	t.Helper()
	return testTorrentNamed(t, "movie.mp4")
}

func testTorrentNamed(t *testing.T, name string) ([]byte, string) {
	t.Helper()
	info := metainfo.Info{
		Name:        name,
		PieceLength: 16384,
		Length:      10,
		Pieces:      make([]byte, 20),
	}
	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		t.Fatalf("marshal info: %v", err)
	}
	mi := metainfo.MetaInfo{InfoBytes: infoBytes}
	var buf bytes.Buffer
	if err := mi.Write(&buf); err != nil {
		t.Fatalf("write metainfo: %v", err)
	}
	return buf.Bytes(), mi.HashInfoBytes().HexString()
}

// ---------------------------------------------------------------------------
// Content source fakes
// ---------------------------------------------------------------------------

type fakeSource struct {
	meta     domain.SourceMetadata
	progress atomic.Value // float64
	closed   atomic.Int32
}

func newFakeSource(path string, size int64) *fakeSource {
	s := &fakeSource{meta: domain.SourceMetadata{
		Name:      filepath.Base(path),
		Path:      path,
		Size:      size,
		PieceSize: 256,
		Container: filepath.Ext(path),
	}}
	s.progress.Store(float64(0))
	return s
}

func (f *fakeSource) Metadata(context.Context) (domain.SourceMetadata, error) { return f.meta, nil }
func (f *fakeSource) EnsureAvailable(context.Context, int64) error            { return nil }
func (f *fakeSource) ReadWindow(int64, int64) ([]byte, error)                 { return nil, nil }
func (f *fakeSource) TotalSize() int64                                        { return f.meta.Size }
func (f *fakeSource) PieceSize() int64                                        { return f.meta.PieceSize }
func (f *fakeSource) Progress() float64                                       { return f.progress.Load().(float64) }
func (f *fakeSource) setProgress(p float64)                                   { f.progress.Store(p) }
func (f *fakeSource) Close() error                                            { f.closed.Add(1); return nil }

type fakeConverter struct {
	err   error
	calls atomic.Int32
}

func (c *fakeConverter) Convert(_ context.Context, input string) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return input + ".mp4", nil
}

type fakeProber struct {
	duration float64
	err      error
	calls    atomic.Int32
}

func (p *fakeProber) Duration(context.Context, string) (float64, error) {
	p.calls.Add(1)
	return p.duration, p.err
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeTestFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
