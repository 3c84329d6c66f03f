package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hyperstream/internal/domain"
)

// stopGrace is how long a process gets to exit after an interrupt before it
// is killed.
const stopGrace = 2 * time.Second

const stderrTailSize = 4 << 10

// tailBuffer keeps the last stderrTailSize bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - stderrTailSize; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}

// process is a running ffmpeg whose stdout is read through an os.Pipe we own,
// so waiting for exit never races with reads.
type process struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdout  *os.File
	stderr  tailBuffer
	done    chan struct{}
	waitErr error
	stopped atomic.Bool
}

func startProcess(ctx context.Context, binary string, args []string) (*process, error) {
	pctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(pctx, binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = stopGrace

	r, w, err := os.Pipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", domain.ErrTranscodeSpawn, err)
	}
	p := &process{cmd: cmd, cancel: cancel, stdout: r, done: make(chan struct{})}
	cmd.Stdout = w
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		r.Close()
		w.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrTranscodeSpawn, err)
	}
	w.Close()

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// exitError reports an abnormal exit that we did not cause.
func (p *process) exitError() error {
	<-p.done
	if p.waitErr == nil || p.stopped.Load() {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(p.waitErr, &exitErr) && !errors.Is(p.waitErr, exec.ErrWaitDelay) {
		return fmt.Errorf("%w: %v", domain.ErrTranscodeRuntime, p.waitErr)
	}
	if tail := p.stderr.String(); tail != "" {
		return fmt.Errorf("%w: %v: %s", domain.ErrTranscodeRuntime, p.waitErr, tail)
	}
	return fmt.Errorf("%w: %v", domain.ErrTranscodeRuntime, p.waitErr)
}

// stop interrupts the process, kills it after stopGrace and reaps it.
func (p *process) stop() {
	p.stopped.Store(true)
	p.cancel()
	<-p.done
	p.stdout.Close()
}
