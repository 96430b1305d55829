// Package source produces the outbound byte stream of the bridge. The two
// variants share one contract: ReadNext hands back the next slice of
// bytes, io.EOF when the stream has ended, or the context error on
// cancellation. The PTY variant ends at child exit; the file variant never
// ends on its own and reports idle ticks as empty reads.
package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Source is the read side of the bridge output pipeline.
type Source interface {
	// ReadNext returns the next bytes. A (nil, nil) result is an idle tick
	// (file variant only); io.EOF means the stream is finished.
	ReadNext(ctx context.Context) ([]byte, error)
	Close() error
}

const (
	readSlice     = 32 * 1024
	defaultPollMs = 50
)

// PTYSource reads from a PTY master descriptor placed in non-blocking
// mode. EIO from the master is the kernel's way of reporting that the
// child side hung up, so it maps to io.EOF like a plain close does.
type PTYSource struct {
	f      *os.File
	pollMs int
	buf    []byte
}

// NewPTY wraps an already non-blocking master descriptor.
func NewPTY(master *os.File) *PTYSource {
	return &PTYSource{f: master, pollMs: defaultPollMs, buf: make([]byte, readSlice)}
}

func (s *PTYSource) ReadNext(ctx context.Context) ([]byte, error) {
	fd := int32(s.f.Fd())
	pollFd := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		nReady, err := unix.Poll(pollFd, s.pollMs)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			return nil, err
		}
		if nReady == 0 {
			continue
		}

		n, err := s.f.Read(s.buf)
		if n > 0 {
			out := make([]byte, n)
			copy(out, s.buf[:n])
			return out, nil
		}
		if err != nil {
			switch {
			case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
				continue
			case errors.Is(err, io.EOF), errors.Is(err, syscall.EIO):
				return nil, io.EOF
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return nil, io.EOF
			default:
				return nil, err
			}
		}
	}
}

// Close is a no-op: the master descriptor belongs to the process owner,
// which closes it as part of its own teardown.
func (s *PTYSource) Close() error { return nil }

// FileSource tails an external file, reporting appended bytes. It opens
// lazily (a missing file yields empty reads), seeks to the end when the
// file already exists at construction (a file created later is read from
// the start), and reopens from the start when the file is truncated or
// rotated.
//
// fsnotify supplies wake-ups where the filesystem supports it; a periodic
// poll backstops filesystems that do not, so progress never depends on
// notification delivery.
type FileSource struct {
	path     string
	interval time.Duration
	log      *logrus.Logger

	f       *os.File
	pos     int64
	ino     uint64
	watcher *fsnotify.Watcher
	buf     []byte
}

// NewFile creates a tailer for path. interval bounds how long an idle
// ReadNext waits before returning an empty tick; 0 uses a 200ms default.
func NewFile(path string, interval time.Duration, log *logrus.Logger) *FileSource {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	s := &FileSource{path: path, interval: interval, log: log, buf: make([]byte, readSlice)}
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(path); err != nil {
			// Watch the directory instead so creation of a missing file
			// still wakes us; failing that, polling alone carries it.
			_ = w.Add(filepath.Dir(path))
		}
		s.watcher = w
	} else {
		log.WithError(err).Debug("fsnotify unavailable, tailing by polling only")
	}
	// History present at startup is not bridged; only appends are. A file
	// that appears later is all-new content and reads from the top.
	if err := s.open(); err == nil {
		s.pos, _ = s.f.Seek(0, io.SeekEnd)
	}
	return s
}

func (s *FileSource) ReadNext(ctx context.Context) ([]byte, error) {
	if s.f == nil {
		if err := s.open(); err != nil {
			// Missing file: report an empty tick after a bounded wait.
			s.wait(ctx)
			return nil, ctx.Err()
		}
	}

	s.checkRollover()
	if s.f == nil { // rotated away and the replacement is not there yet
		s.wait(ctx)
		return nil, ctx.Err()
	}

	n, err := s.f.ReadAt(s.buf, s.pos)
	if n > 0 {
		s.pos += int64(n)
		out := make([]byte, n)
		copy(out, s.buf[:n])
		return out, nil
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	s.wait(ctx)
	return nil, ctx.Err()
}

// open (re)opens the target positioned at the start; the constructor
// seeks past existing history afterwards.
func (s *FileSource) open() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	s.f = f
	s.pos = 0
	s.ino = inodeOf(f)
	if s.watcher != nil {
		_ = s.watcher.Add(s.path)
	}
	return nil
}

// checkRollover detects truncation (size < position) and rotation (inode
// change) and repositions at the start of the current file.
func (s *FileSource) checkRollover() {
	st, err := s.f.Stat()
	if err == nil && st.Size() < s.pos {
		s.log.WithField("path", s.path).Debug("tailed file truncated, restarting from top")
		s.pos = 0
		return
	}

	dst, err := os.Stat(s.path)
	if err != nil {
		return // deleted; keep draining the open descriptor
	}
	if ino := inodeOfInfo(dst); ino != 0 && ino != s.ino {
		s.log.WithField("path", s.path).Debug("tailed file rotated, reopening")
		_ = s.f.Close()
		s.f = nil
		_ = s.open()
	}
}

// wait blocks until a watcher event, the poll interval, or cancellation.
func (s *FileSource) wait(ctx context.Context) {
	t := time.NewTimer(s.interval)
	defer t.Stop()

	var events chan fsnotify.Event
	var errs chan error
	if s.watcher != nil {
		events = s.watcher.Events
		errs = s.watcher.Errors
	}
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-events:
	case err := <-errs:
		if err != nil {
			s.log.WithError(err).Debug("tail watcher error")
		}
	}
}

func (s *FileSource) Close() error {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
	if s.f != nil {
		return s.f.Close()
	}
	return nil
}

func inodeOf(f *os.File) uint64 {
	st, err := f.Stat()
	if err != nil {
		return 0
	}
	return inodeOfInfo(st)
}

func inodeOfInfo(st os.FileInfo) uint64 {
	if sys, ok := st.Sys().(*syscall.Stat_t); ok {
		return sys.Ino
	}
	return 0
}
