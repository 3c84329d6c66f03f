package source

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"hyperstream/internal/domain"
	"hyperstream/internal/metrics"
)

func writeFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestTorrent(t *testing.T, cfg TorrentConfig) (*TorrentBacked, *fakeHandle, []byte) {
	t.Helper()
	dir := t.TempDir()
	file := domain.TorrentFile{Index: 1, Path: "Movie/Movie.MKV", Length: 4000, Offset: 1000}
	data := writeFile(t, filepath.Join(dir, "Movie", "Movie.MKV"), int(file.Length))
	h := newFakeHandle(dir, file, 1024)
	return NewTorrentBacked(h, cfg, nil), h, data
}

// ---------------------------------------------------------------------------
// pieceIndex / WindowLength
// ---------------------------------------------------------------------------

func TestPieceIndex(t *testing.T) {
	tests := []struct {
		fileOffset, offset, pieceSize int64
		want                          int
	}{
		{0, 0, 1024, 0},
		{0, 1023, 1024, 0},
		{0, 1024, 1024, 1},
		{1000, 0, 1024, 0},
		{1000, 24, 1024, 1},
		{1000, 3999, 1024, 4},
		{0, 10, 0, 0},
	}
	for _, tc := range tests {
		if got := pieceIndex(tc.fileOffset, tc.offset, tc.pieceSize); got != tc.want {
			t.Fatalf("pieceIndex(%d, %d, %d) = %d, want %d", tc.fileOffset, tc.offset, tc.pieceSize, got, tc.want)
		}
	}
}

func TestWindowLength(t *testing.T) {
	torrentMeta := domain.SourceMetadata{Size: 4000, PieceSize: 1024, FileOffset: 1000}
	fileMeta := domain.SourceMetadata{Size: 10 << 20}
	tests := []struct {
		name        string
		meta        domain.SourceMetadata
		offset, end int64
		want        int64
	}{
		{"first piece tail", torrentMeta, 0, 3999, 24},
		{"full piece", torrentMeta, 24, 3999, 1024},
		{"clamped by end", torrentMeta, 24, 99, 76},
		{"single byte", torrentMeta, 3999, 3999, 1},
		{"file window", fileMeta, 0, 10<<20 - 1, FileWindow},
		{"file tail", fileMeta, 10<<20 - 10, 10<<20 - 1, 10},
		{"end before offset", fileMeta, 5, 4, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := WindowLength(tc.meta, tc.offset, tc.end); got != tc.want {
				t.Fatalf("WindowLength = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestWindowsNeverCrossPieceBoundaries(t *testing.T) {
	meta := domain.SourceMetadata{Size: 4000, PieceSize: 1024, FileOffset: 1000}
	var covered int64
	for off := int64(0); off < meta.Size; {
		n := WindowLength(meta, off, meta.Size-1)
		if n <= 0 {
			t.Fatalf("non-positive window at %d", off)
		}
		first := pieceIndex(meta.FileOffset, off, meta.PieceSize)
		last := pieceIndex(meta.FileOffset, off+n-1, meta.PieceSize)
		if first != last {
			t.Fatalf("window [%d,%d) spans pieces %d..%d", off, off+n, first, last)
		}
		covered += n
		off += n
	}
	if covered != meta.Size {
		t.Fatalf("covered %d bytes, want %d", covered, meta.Size)
	}
}

// ---------------------------------------------------------------------------
// TorrentBacked
// ---------------------------------------------------------------------------

func TestTorrentMetadata(t *testing.T) {
	src, h, _ := newTestTorrent(t, TorrentConfig{})
	meta, err := src.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta.Name != "Movie.MKV" || meta.Container != ".mkv" {
		t.Fatalf("meta = %+v", meta)
	}
	if meta.Size != 4000 || meta.PieceSize != 1024 || meta.FileOffset != 1000 {
		t.Fatalf("meta geometry = %+v", meta)
	}
	if meta.Path != filepath.Join(h.dataDir, "Movie", "Movie.MKV") {
		t.Fatalf("meta.Path = %q", meta.Path)
	}
	if src.TotalSize() != 4000 || src.PieceSize() != 1024 {
		t.Fatalf("TotalSize/PieceSize = %d/%d", src.TotalSize(), src.PieceSize())
	}
}

func TestTorrentMetadataTimeout(t *testing.T) {
	src, h, _ := newTestTorrent(t, TorrentConfig{MetadataTimeout: 20 * time.Millisecond})
	h.blockMeta = true
	_, err := src.Metadata(context.Background())
	if !errors.Is(err, domain.ErrMetadataUnavailable) {
		t.Fatalf("err = %v, want ErrMetadataUnavailable", err)
	}
}

func TestTorrentMetadataCallerCancel(t *testing.T) {
	src, h, _ := newTestTorrent(t, TorrentConfig{MetadataTimeout: time.Minute})
	h.blockMeta = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.Metadata(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTorrentEnsureAvailableBeforeMetadata(t *testing.T) {
	src, _, _ := newTestTorrent(t, TorrentConfig{})
	if err := src.EnsureAvailable(context.Background(), 0); !errors.Is(err, domain.ErrMetadataUnavailable) {
		t.Fatalf("err = %v, want ErrMetadataUnavailable", err)
	}
}

func TestTorrentEnsureAvailableCompletePiece(t *testing.T) {
	src, h, _ := newTestTorrent(t, TorrentConfig{})
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.setComplete(1)
	if err := src.EnsureAvailable(context.Background(), 24); err != nil {
		t.Fatalf("EnsureAvailable: %v", err)
	}
	if got := h.prioritizedPieces(); len(got) != 0 {
		t.Fatalf("complete piece should not be prioritized, got %v", got)
	}
}

func TestTorrentEnsureAvailablePollsUntilComplete(t *testing.T) {
	src, h, _ := newTestTorrent(t, TorrentConfig{PollInterval: 5 * time.Millisecond, PieceWaitTimeout: 5 * time.Second})
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(30 * time.Millisecond)
		h.setComplete(4)
	}()

	if err := src.EnsureAvailable(context.Background(), 3999); err != nil {
		t.Fatalf("EnsureAvailable: %v", err)
	}
	got := h.prioritizedPieces()
	if len(got) != 1 || got[0] != 4 {
		t.Fatalf("prioritized = %v, want [4]", got)
	}
}

func TestTorrentEnsureAvailableTimeout(t *testing.T) {
	src, _, _ := newTestTorrent(t, TorrentConfig{PollInterval: 5 * time.Millisecond, PieceWaitTimeout: 30 * time.Millisecond})
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}

	before := testutil.ToFloat64(metrics.PieceWaitTimeouts)
	err := src.EnsureAvailable(context.Background(), 0)
	if !errors.Is(err, domain.ErrPieceUnavailable) {
		t.Fatalf("err = %v, want ErrPieceUnavailable", err)
	}
	if got := testutil.ToFloat64(metrics.PieceWaitTimeouts) - before; got != 1 {
		t.Fatalf("timeouts delta = %v, want 1", got)
	}
}

func TestTorrentEnsureAvailableCallerCancel(t *testing.T) {
	src, _, _ := newTestTorrent(t, TorrentConfig{PollInterval: 5 * time.Millisecond, PieceWaitTimeout: time.Minute})
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := src.EnsureAvailable(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTorrentEnsureAvailableUsesAwaiter(t *testing.T) {
	dir := t.TempDir()
	file := domain.TorrentFile{Path: "movie.mp4", Length: 2048}
	writeFile(t, filepath.Join(dir, "movie.mp4"), 2048)
	h := &awaitingHandle{fakeHandle: newFakeHandle(dir, file, 1024), release: make(chan struct{})}
	src := NewTorrentBacked(h, TorrentConfig{PieceWaitTimeout: 5 * time.Second}, nil)
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}

	close(h.release)
	if err := src.EnsureAvailable(context.Background(), 1500); err != nil {
		t.Fatalf("EnsureAvailable: %v", err)
	}
	if h.awaited.Load() != 1 {
		t.Fatalf("AwaitPiece calls = %d, want 1", h.awaited.Load())
	}
	if !h.PieceComplete(1) {
		t.Fatal("piece 1 should be complete")
	}
}

func TestTorrentEnsureAvailableOutOfBounds(t *testing.T) {
	src, _, _ := newTestTorrent(t, TorrentConfig{})
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, off := range []int64{-1, 4000, 5000} {
		if err := src.EnsureAvailable(context.Background(), off); !errors.Is(err, domain.ErrRangeNotSatisfiable) {
			t.Fatalf("EnsureAvailable(%d) err = %v, want ErrRangeNotSatisfiable", off, err)
		}
	}
}

func TestTorrentReadWindow(t *testing.T) {
	src, h, data := newTestTorrent(t, TorrentConfig{})
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.completeAll()

	if err := src.EnsureAvailable(context.Background(), 100); err != nil {
		t.Fatal(err)
	}
	got, err := src.ReadWindow(100, 50)
	if err != nil {
		t.Fatalf("ReadWindow: %v", err)
	}
	if !bytes.Equal(got, data[100:150]) {
		t.Fatal("ReadWindow returned wrong bytes")
	}

	if _, err := src.ReadWindow(3990, 20); !errors.Is(err, domain.ErrSourceRead) {
		t.Fatalf("overrun err = %v, want ErrSourceRead", err)
	}
}

func TestTorrentReadWindowShortFile(t *testing.T) {
	src, _, _ := newTestTorrent(t, TorrentConfig{})
	meta, err := src.Metadata(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(meta.Path, 100); err != nil {
		t.Fatal(err)
	}
	if _, err := src.ReadWindow(50, 100); !errors.Is(err, domain.ErrSourceRead) {
		t.Fatalf("err = %v, want ErrSourceRead", err)
	}
}

func TestTorrentCloseDropsOnce(t *testing.T) {
	src, h, _ := newTestTorrent(t, TorrentConfig{})
	if _, err := src.Metadata(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := src.ReadWindow(0, 10); err != nil {
		t.Fatal(err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if h.dropped.Load() != 1 {
		t.Fatalf("Drop calls = %d, want 1", h.dropped.Load())
	}
	if _, err := src.ReadWindow(0, 10); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("read after close err = %v, want ErrSessionClosed", err)
	}
}

// ---------------------------------------------------------------------------
// FileBacked
// ---------------------------------------------------------------------------

func TestFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.mp4")
	data := writeFile(t, path, 10_000)

	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer src.Close()

	meta, err := src.Metadata(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 10_000 || meta.PieceSize != 0 || meta.Container != ".mp4" || meta.Name != "movie.mp4" {
		t.Fatalf("meta = %+v", meta)
	}
	if src.Progress() != 1 {
		t.Fatalf("Progress = %v, want 1", src.Progress())
	}
	if err := src.EnsureAvailable(context.Background(), 9_999); err != nil {
		t.Fatalf("EnsureAvailable: %v", err)
	}
	if err := src.EnsureAvailable(context.Background(), 10_000); !errors.Is(err, domain.ErrRangeNotSatisfiable) {
		t.Fatalf("EnsureAvailable past end err = %v", err)
	}
	got, err := src.ReadWindow(9_000, 1_000)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data[9_000:]) {
		t.Fatal("ReadWindow returned wrong bytes")
	}
}

func TestOpenFileRejectsDirectoryAndMissing(t *testing.T) {
	dir := t.TempDir()
	if _, err := OpenFile(dir); err == nil {
		t.Fatal("expected error for directory")
	}
	if _, err := OpenFile(filepath.Join(dir, "missing.mp4")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
