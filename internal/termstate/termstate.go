// Package termstate owns the two pieces of genuinely process-wide state
// in the bridge: the shutdown flag and the host-terminal restoration
// protocol. Init and Restore form an explicit pair; Restore is idempotent
// and must be reachable from panic paths, so it takes no arguments and
// depends on nothing that could itself have been torn down.
package termstate

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// RestoreSequence puts a terminal back into a usable state no matter what
// the child left behind: exit the alternate screen, disable mouse
// tracking (modes 1000/1002/1003/1006), reset attributes, show the
// cursor, clear, home. Order matters: leaving the alternate screen first
// makes the clear act on the primary buffer.
const RestoreSequence = "\x1b[?1049l" +
	"\x1b[?1000l\x1b[?1002l\x1b[?1003l\x1b[?1006l" +
	"\x1b[0m" +
	"\x1b[?25h" +
	"\x1b[2J\x1b[H"

// settleDelay gives a dying child time to emit its last mouse-tracking
// bytes before the input flush discards them.
const settleDelay = 50 * time.Millisecond

type state struct {
	out     io.Writer
	inFd    int
	settled time.Duration

	shutdown     atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	restoreOnce  sync.Once
}

var (
	mu  sync.Mutex
	cur *state
)

// Init wires the module to the host terminal. out receives the
// restoration bytes; inFd is the descriptor whose pending input gets
// flushed (pass -1 to skip, e.g. when stdin is not a terminal).
// Calling Init again replaces the previous state, resetting the shutdown
// flag and the once-only restoration.
func Init(out io.Writer, inFd int) {
	mu.Lock()
	defer mu.Unlock()
	cur = &state{
		out:        out,
		inFd:       inFd,
		settled:    settleDelay,
		shutdownCh: make(chan struct{}),
	}
}

func get() *state {
	mu.Lock()
	defer mu.Unlock()
	return cur
}

// RequestShutdown sets the process-wide shutdown flag. Safe from signal
// handlers and any goroutine; only the first call closes the channel.
func RequestShutdown() {
	s := get()
	if s == nil {
		return
	}
	s.shutdown.Store(true)
	s.shutdownOnce.Do(func() { close(s.shutdownCh) })
}

// ShutdownRequested reports the flag without blocking.
func ShutdownRequested() bool {
	s := get()
	return s != nil && s.shutdown.Load()
}

// Done returns a channel closed when shutdown has been requested. Returns
// a nil channel (blocks forever in select) before Init.
func Done() <-chan struct{} {
	s := get()
	if s == nil {
		return nil
	}
	return s.shutdownCh
}

// Restore flushes pending terminal input and emits the restoration
// sequence. Runs at most once per Init; every exit path, including panic
// handlers, may call it freely.
func Restore() {
	s := get()
	if s == nil {
		return
	}
	s.restoreOnce.Do(func() {
		if s.inFd >= 0 && term.IsTerminal(s.inFd) {
			// The child may still be spraying mouse CSI bytes; let them
			// land, then throw them away so they never reach the shell.
			time.Sleep(s.settled)
			_ = unix.IoctlSetInt(s.inFd, unix.TCFLSH, unix.TCIFLUSH)
		}
		if s.out != nil {
			_, _ = io.WriteString(s.out, RestoreSequence)
		}
	})
}

// HandlePanic restores the terminal and re-raises. Use as
// `defer termstate.HandlePanic()` at the top of every long-lived task.
func HandlePanic() {
	if r := recover(); r != nil {
		Restore()
		panic(r)
	}
}
