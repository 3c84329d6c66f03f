package anacrolix

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"hyperstream/internal/domain"
	"hyperstream/internal/domain/ports"
)

// defaultMaxConns is used when the config leaves MaxConns unset.
const defaultMaxConns = 35

// addTimeout caps the time we wait for the anacrolix client to accept a
// torrent. AddMagnet can block on an internal client mutex when the client is
// busy resolving metadata for another torrent.
const addTimeout = 10 * time.Second

var ErrClientBusy = errors.New("torrent client busy, try again later")

type Config struct {
	DataDir      string
	MaxConns     int
	PollInterval time.Duration // piece completion re-check while awaiting
}

// Engine adapts an anacrolix client to ports.TorrentEngine. Handles for the
// same infohash share one *torrent.Torrent; the torrent is dropped when the
// last handle is released.
type Engine struct {
	client       *torrent.Client
	dataDir      string
	pollInterval time.Duration
	addTimeout   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	t    *torrent.Torrent
	refs int
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}
	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	clientConfig.EstablishedConnsPerTorrent = maxConns

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}

	e := NewWithClient(client, clientConfig.DataDir)
	if cfg.PollInterval > 0 {
		e.pollInterval = cfg.PollInterval
	}
	return e, nil
}

func NewWithClient(client *torrent.Client, dataDir string) *Engine {
	return &Engine{
		client:       client,
		dataDir:      dataDir,
		pollInterval: 500 * time.Millisecond,
		addTimeout:   addTimeout,
		entries:      make(map[string]*entry),
	}
}

var _ ports.TorrentEngine = (*Engine)(nil)

func (e *Engine) Add(ctx context.Context, spec domain.TorrentSpec) (ports.TorrentHandle, error) {
	if e.client == nil {
		return nil, errors.New("torrent client not configured")
	}
	if spec.Magnet == "" && spec.TorrentFile == "" {
		return nil, domain.ErrBadIdentifier
	}

	// Run the add with a timeout so an HTTP handler never blocks
	// indefinitely on a busy client.
	ch := make(chan addResult, 1)
	go func() {
		var t *torrent.Torrent
		var err error
		if spec.Magnet != "" {
			t, err = e.client.AddMagnet(spec.Magnet)
		} else {
			t, err = e.client.AddTorrentFromFile(spec.TorrentFile)
		}
		ch <- addResult{t, err}
	}()

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		t = res.t
	case <-time.After(e.addTimeout):
		go dropOrphan(ch)
		return nil, ErrClientBusy
	case <-ctx.Done():
		go dropOrphan(ch)
		return nil, ctx.Err()
	}

	id := t.InfoHash().HexString()
	e.retain(id, t)
	return &Handle{engine: e, t: t, id: id}, nil
}

type addResult struct {
	t   *torrent.Torrent
	err error
}

// dropOrphan drops a torrent the client accepted after we stopped waiting.
func dropOrphan(ch <-chan addResult) {
	if res := <-ch; res.t != nil {
		res.t.Drop()
	}
}

func (e *Engine) retain(id string, t *torrent.Torrent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ent, ok := e.entries[id]; ok {
		ent.refs++
		return
	}
	e.entries[id] = &entry{t: t, refs: 1}
}

// release decrements the handle count for id and reports whether the caller
// held the last reference.
func (e *Engine) release(id string) (*torrent.Torrent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[id]
	if !ok {
		return nil, false
	}
	ent.refs--
	if ent.refs > 0 {
		return nil, false
	}
	delete(e.entries, id)
	return ent.t, true
}

// Active returns the number of torrents currently held by handles.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

func (e *Engine) drop(id string) {
	t, last := e.release(id)
	if !last || t == nil {
		return
	}
	slog.Debug("dropping torrent", slog.String("infoHash", id))
	t.Drop()
	// Return memory to the OS promptly after dropping a torrent. Without this
	// the GC may hold freed piece buffers for a long time on small hosts.
	freeOSMemory()
}

func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
