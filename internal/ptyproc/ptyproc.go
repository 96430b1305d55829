// Package ptyproc runs the target program under a pseudo-terminal and
// owns the master descriptor for its lifetime.
//
// Reads happen through source.PTYSource; writes go through a ring buffer
// drained by a background loop, so callers never block on a stuffed PTY.
// When the ring is full the excess bytes are dropped and counted, so the
// bridge stays live under an unresponsive child.
package ptyproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/teletty/internal/groutine"
)

const (
	defaultWriteCap    = 8 * 1024
	defaultPollMs      = 50
	defaultGraceWindow = 2 * time.Second

	defaultRows = 24
	defaultCols = 80
)

// Options configures a spawned child.
type Options struct {
	Logger      *logrus.Logger
	WriteCap    int           // write ring capacity in bytes (0 = default)
	PollMs      int           // write-loop poll timeout (0 = default)
	GraceWindow time.Duration // delay between kill escalation steps (0 = default)
}

// Stats counts write-path traffic for the shutdown debug report.
type Stats struct {
	WrittenBytes uint64
	DroppedBytes uint64
}

// Proc is a child process attached to a PTY master.
type Proc struct {
	cmd    *exec.Cmd
	master *os.File
	log    *logrus.Logger
	grace  time.Duration
	pollMs int

	writeBuf *ringbuffer.RingBuffer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool

	written uint64
	dropped uint64

	waitOnce sync.Once
	waitErr  error
	waitCh   chan struct{}
}

// Start spawns argv[0] under a freshly allocated PTY sized to the host
// terminal. The child gets its own session with the PTY slave as
// controlling terminal.
func Start(argv []string, opts *Options) (*Proc, error) {
	if len(argv) == 0 {
		return nil, errors.New("no command given")
	}
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}

	path, err := resolveExecutable(argv[0])
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Env = os.Environ()

	ws := hostWinsize()
	master, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return nil, fmt.Errorf("failed to start %s under a PTY: %w", argv[0], err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		_ = master.Close()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("failed to set PTY master nonblocking: %w", err)
	}

	writeCap := opts.WriteCap
	if writeCap == 0 {
		writeCap = defaultWriteCap
	}
	pollMs := opts.PollMs
	if pollMs == 0 {
		pollMs = defaultPollMs
	}
	grace := opts.GraceWindow
	if grace == 0 {
		grace = defaultGraceWindow
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Proc{
		cmd:      cmd,
		master:   master,
		log:      log,
		grace:    grace,
		pollMs:   pollMs,
		writeBuf: ringbuffer.New(writeCap),
		ctx:      ctx,
		cancel:   cancel,
		waitCh:   make(chan struct{}),
	}

	p.wg.Add(1)
	groutine.Go(ctx, "pty-write-loop", func(context.Context) {
		p.writeLoop()
	})

	// Reap eagerly so Exited() fires on natural child death, not only
	// when a caller happens to Wait.
	groutine.Go(ctx, "child-reaper", func(context.Context) {
		_ = p.Wait()
	})

	log.WithFields(logrus.Fields{
		"pid":  cmd.Process.Pid,
		"tty":  master.Name(),
		"size": fmt.Sprintf("%dx%d", ws.Cols, ws.Rows),
	}).Debug("child started under PTY")

	return p, nil
}

// resolveExecutable honors PATH and, for a bare name that PATH does not
// know, falls back to an executable of that name in the working
// directory. Scripts sitting next to the user are otherwise a reliable
// "permission denied"/"not found" trap.
func resolveExecutable(name string) (string, error) {
	if filepath.Base(name) != name {
		return name, nil // has a directory component, use as-is
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	local := filepath.Join(".", name)
	if st, err := os.Stat(local); err == nil && !st.IsDir() && st.Mode()&0o111 != 0 {
		abs, err := filepath.Abs(local)
		if err != nil {
			return local, nil
		}
		return abs, nil
	}
	return "", fmt.Errorf("executable %q not found on PATH or in the current directory", name)
}

// hostWinsize reads the host terminal geometry from stdin, pixel dims
// included; failing that it uses stdout's size, and defaults to 24x80
// when neither is a terminal.
func hostWinsize() *pty.Winsize {
	if ws, err := pty.GetsizeFull(os.Stdin); err == nil && ws.Rows > 0 && ws.Cols > 0 {
		return ws
	}
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 && h > 0 {
		return &pty.Winsize{Rows: uint16(h), Cols: uint16(w)}
	}
	return &pty.Winsize{Rows: defaultRows, Cols: defaultCols}
}

// Master exposes the PTY master for the read side. Ownership stays here.
func (p *Proc) Master() *os.File { return p.master }

// Pid returns the child pid.
func (p *Proc) Pid() int { return p.cmd.Process.Pid }

// Write queues data for the child. Never blocks; when the ring is full
// the excess is dropped and counted. Writes from a single call stay
// contiguous in the ring, so one translated message reaches the child as
// an unbroken byte group.
func (p *Proc) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	written, err := p.writeBuf.Write(data)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if written < len(data) {
		dropped := len(data) - written
		atomic.AddUint64(&p.dropped, uint64(dropped))
		p.log.WithField("dropped", dropped).Warn("PTY write queue overflow, input bytes dropped")
	}
	return written, nil
}

// writeLoop drains the ring into the master, waiting on POLLOUT when the
// kernel buffer is full.
func (p *Proc) writeLoop() {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("writeLoop panicked (recovered): %v", r)
		}
		p.wg.Done()
	}()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if p.writeBuf.IsEmpty() {
			if _, err := unix.Poll(pollFd, p.pollMs); err != nil && !errors.Is(err, syscall.EINTR) {
				p.log.WithError(err).Warn("writeLoop poll error")
			}
			continue
		}

		n, err := p.writeBuf.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.log.WithError(err).Warn("writeLoop ring read error")
			continue
		}
		if n == 0 {
			continue
		}

		offset := 0
		for offset < n {
			written, err := master.Write(buf[offset:n])
			if written > 0 {
				offset += written
				atomic.AddUint64(&p.written, uint64(written))
			}
			if err != nil {
				switch {
				case errors.Is(err, syscall.EINTR):
					continue
				case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EWOULDBLOCK):
					if _, pollErr := unix.Poll(pollFd, p.pollMs); pollErr != nil && !errors.Is(pollErr, syscall.EINTR) {
						p.log.WithError(pollErr).Warn("writeLoop poll error")
					}
					continue
				case errors.Is(err, syscall.EBADF), errors.Is(err, os.ErrClosed):
					return // master closed during teardown
				default:
					p.log.WithError(err).Warn("writeLoop exiting on write error")
					return
				}
			}
		}
	}
}

// Resize re-reads the host terminal size, applies it to the PTY, and
// forwards SIGWINCH so the child redraws.
func (p *Proc) Resize() {
	if p.closed.Load() {
		return
	}
	if err := pty.Setsize(p.master, hostWinsize()); err != nil {
		p.log.WithError(err).Debug("failed to resize PTY")
		return
	}
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGWINCH)
	}
}

// Wait blocks until the child exits; safe to call from several
// goroutines. The first caller reaps.
func (p *Proc) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.waitCh)
	})
	<-p.waitCh
	return p.waitErr
}

// Exited returns a channel closed once the child has been reaped.
func (p *Proc) Exited() <-chan struct{} { return p.waitCh }

// Alive reports whether the child is still running.
func (p *Proc) Alive() bool {
	select {
	case <-p.waitCh:
		return false
	default:
	}
	// Signal 0 probes existence without delivering anything.
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Shutdown walks the kill escalation: SIGHUP to the child's session,
// then after the grace window SIGTERM, then SIGKILL. Returns once the
// child is reaped.
func (p *Proc) Shutdown() {
	pid := p.cmd.Process.Pid

	// The child leads its own session (pty.StartWithSize sets Setsid), so
	// signaling -pid reaches its whole process group.
	_ = syscall.Kill(-pid, syscall.SIGHUP)
	if p.waitExit(p.grace) {
		return
	}
	p.log.WithField("pid", pid).Debug("child survived SIGHUP, sending SIGTERM")
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	if p.waitExit(p.grace) {
		return
	}
	p.log.WithField("pid", pid).Warn("child survived SIGTERM, sending SIGKILL")
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	_ = p.Wait()
}

// waitExit waits up to d for the child to be reaped.
func (p *Proc) waitExit(d time.Duration) bool {
	go func() { _ = p.Wait() }()
	select {
	case <-p.waitCh:
		return true
	case <-time.After(d):
		return false
	}
}

// Stats returns the write-path counters.
func (p *Proc) Stats() Stats {
	return Stats{
		WrittenBytes: atomic.LoadUint64(&p.written),
		DroppedBytes: atomic.LoadUint64(&p.dropped),
	}
}

// Close stops the write loop and closes the master. Idempotent.
func (p *Proc) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	err := p.master.Close()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Duration(p.pollMs)*time.Millisecond*3 + time.Second):
		p.log.Error("Close timed out waiting for the write loop; it will self-terminate")
	}
	return err
}
