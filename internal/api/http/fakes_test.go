package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
	"hyperstream/internal/session"
	"hyperstream/internal/source"
	"hyperstream/internal/transcode"
	"hyperstream/internal/usecase"
)

// ---------------------------------------------------------------------------
// Server fixture
// ---------------------------------------------------------------------------

type testEnv struct {
	srv      *Server
	registry *session.Registry
	root     string
	engine   *fakeEngine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	root := t.TempDir()
	registry := session.NewRegistry()
	engine := &fakeEngine{dataDir: root}
	init := &usecase.InitStream{
		Registry:        registry,
		Engine:          engine,
		MediaRoot:       root,
		TorrentFilesDir: filepath.Join(t.TempDir(), "torrent_files"),
		Logger:          discardLogger(),
	}
	base := []ServerOption{
		WithLogger(discardLogger()),
		WithInitStream(init),
		WithListMedia(usecase.ListMedia{MediaRoot: root}),
		WithRateLimit(0, 0),
	}
	srv := NewServer(registry, append(base, opts...)...)
	t.Cleanup(func() {
		srv.Close()
		registry.CloseAll()
	})
	return &testEnv{srv: srv, registry: registry, root: root, engine: engine}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

// initLocal registers rel (relative to the media root) and returns its id.
func (e *testEnv) initLocal(t *testing.T, rel string) string {
	t.Helper()
	body := strings.NewReader(`{"localPath":"` + rel + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/stream/init", body)
	req.Header.Set("Content-Type", "application/json")
	rec := e.do(req)
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("init %s: status = %d, body = %s", rel, rec.Code, rec.Body.String())
	}
	return decodeInit(t, rec).StreamID
}

func decodeInit(t *testing.T, rec *httptest.ResponseRecorder) usecase.InitResult {
	t.Helper()
	var res usecase.InitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode init response: %v (body %s)", err, rec.Body.String())
	}
	return res
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (body %s)", err, rec.Body.String())
	}
	return env.Error
}

// writeSparse creates a file of the given size without writing its bytes.
func writeSparse(t *testing.T, path string, size int64) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func writePattern(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return data
}

// ---------------------------------------------------------------------------
// Torrent fakes
// ---------------------------------------------------------------------------

type fakeHandle struct {
	id        string
	dataDir   string
	file      domain.TorrentFile
	pieceSize int64

	mu       sync.Mutex
	complete map[int]bool
	all      bool
	dropped  atomic.Int32
}

func (h *fakeHandle) ID() string { return h.id }
func (h *fakeHandle) WaitMetadata(context.Context) (domain.TorrentFile, error) {
	return h.file, nil
}
func (h *fakeHandle) PieceSize() int64 { return h.pieceSize }
func (h *fakeHandle) NumPieces() int {
	return int((h.file.Offset + h.file.Length + h.pieceSize - 1) / h.pieceSize)
}
func (h *fakeHandle) PieceComplete(index int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.all || h.complete[index]
}
func (h *fakeHandle) PrioritizePiece(int) {}
func (h *fakeHandle) Progress() float64   { return 0.5 }
func (h *fakeHandle) Drop()               { h.dropped.Add(1) }
func (h *fakeHandle) DataPath(f domain.TorrentFile) string {
	return filepath.Join(h.dataDir, filepath.FromSlash(f.Path))
}

type fakeEngine struct {
	dataDir string

	mu    sync.Mutex
	specs []domain.TorrentSpec
}

func (e *fakeEngine) Add(_ context.Context, spec domain.TorrentSpec) (ports.TorrentHandle, error) {
	e.mu.Lock()
	e.specs = append(e.specs, spec)
	e.mu.Unlock()
	return &fakeHandle{
		id:        "fake",
		dataDir:   e.dataDir,
		file:      domain.TorrentFile{Path: "Movie/movie.mp4", Length: 1000},
		pieceSize: 256,
		all:       true,
	}, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) added() []domain.TorrentSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.TorrentSpec(nil), e.specs...)
}

// registerTorrent adds a torrent-backed session whose bytes live in path.
func registerTorrent(t *testing.T, reg *session.Registry, id string, h *fakeHandle) {
	t.Helper()
	src := source.NewTorrentBacked(h, source.TorrentConfig{
		MetadataTimeout:  time.Second,
		PieceWaitTimeout: 50 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
	}, discardLogger())
	if err := reg.Create(session.New(id, domain.SourceTorrent, src, discardLogger())); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func testTorrent(t *testing.T) ([]byte, string) {
	t.Helper()
	info := metainfo.Info{
		Name:        "movie.mp4",
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
// Transcoder fake
// ---------------------------------------------------------------------------

type fakeStream struct {
	chunks [][]byte
	err    error // returned after the chunks run out; nil means io.EOF
	closed atomic.Int32
}

func (s *fakeStream) Next() ([]byte, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	chunk := s.chunks[0]
	s.chunks = s.chunks[1:]
	return chunk, nil
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeTranscoder struct {
	stream  *fakeStream
	openErr error

	mu   sync.Mutex
	jobs []transcode.Job
}

func (f *fakeTranscoder) open(_ context.Context, job transcode.Job) (chunkStream, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

func (f *fakeTranscoder) lastJob() (transcode.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return transcode.Job{}, false
	}
	return f.jobs[len(f.jobs)-1], true
}

func withTranscoder(f *fakeTranscoder) ServerOption {
	return func(s *Server) {
		s.openTranscode = f.open
	}
}
