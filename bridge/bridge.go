// Package bridge ties the PTY child, the output pipeline, and the chat
// transport into one session. Run blocks until the child exits, the peer
// sends /quit, the host receives SIGINT/SIGTERM, or I/O fails fatally,
// and restores the host terminal on every one of those paths.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/teletty/internal/groutine"
	"github.com/srg/teletty/internal/keys"
	"github.com/srg/teletty/internal/ptyproc"
	"github.com/srg/teletty/internal/router"
	"github.com/srg/teletty/internal/source"
	"github.com/srg/teletty/internal/telegram"
	"github.com/srg/teletty/internal/termstate"
)

// Transport is the chat side of the session. *telegram.Client satisfies
// it; tests substitute fakes.
type Transport interface {
	Send(text string) error
	Updates(ctx context.Context) <-chan telegram.Inbound
}

// Options configures one bridge session.
type Options struct {
	// Argv is the target program and its arguments.
	Argv []string

	// Transport delivers chat messages both ways.
	Transport Transport

	// Logger receives diagnostics; nil uses a default logrus logger.
	Logger *logrus.Logger

	// OutputStream, when set, tails this file for outbound chat content
	// instead of the PTY stdout. The PTY is still drained to the mirror.
	OutputStream string

	// NoMirror suppresses the local terminal mirror.
	NoMirror bool

	// NoEnter disables the trailing carriage-return write after each
	// translated message.
	NoEnter bool

	// KeymapPath optionally rebinds named keys from a YAML file.
	KeymapPath string

	// Debounce is the output quiescence window before a chat message is
	// cut; MaxBuffered preempts it.
	Debounce    time.Duration `default:"700ms"`
	MaxBuffered int           `default:"65536"`

	// InputCeiling bounds the PTY bytes a single chat message may
	// produce.
	InputCeiling int `default:"4096"`

	// EnterDelay separates the payload write from the trailing carriage
	// return so edge-triggered TUIs see the submit as its own event.
	EnterDelay time.Duration `default:"50ms"`
}

// helpText is the canned /help reply; the key table follows it.
func helpText(program string, tr *keys.Translator) string {
	return fmt.Sprintf("Bridged to `%s`. Plain text is typed into the program.\n\n%s", program, tr.Help())
}

// Run executes one bridge session to completion.
func Run(ctx context.Context, opts *Options) error {
	if opts == nil || len(opts.Argv) == 0 {
		return errors.New("bridge: no command given")
	}
	if opts.Transport == nil {
		return errors.New("bridge: transport is required")
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	defaults.SetDefaults(opts)

	termstate.Init(os.Stdout, int(os.Stdin.Fd()))
	defer termstate.Restore()

	// Signal handlers only flip the shutdown flag; the supervisor does
	// the actual work on its own schedule. SIGPIPE from chat sends must
	// not kill the process.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)

	translator := keys.NewTranslator(!opts.NoEnter)
	if opts.KeymapPath != "" {
		if err := translator.LoadOverrides(opts.KeymapPath); err != nil {
			return err
		}
	}

	proc, err := ptyproc.Start(opts.Argv, &ptyproc.Options{Logger: log})
	if err != nil {
		return err
	}
	defer proc.Close()

	var mirror io.Writer
	if !opts.NoMirror {
		mirror = os.Stdout
	}

	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	// The router consumes either the PTY or the tailed file. In file
	// mode the PTY master still has to be drained or the child stalls
	// once the kernel buffer fills; those bytes go to the mirror only.
	var routerSrc source.Source
	if opts.OutputStream != "" {
		routerSrc = source.NewFile(opts.OutputStream, 0, log)
		groutine.Go(taskCtx, "pty-drain", func(ctx context.Context) {
			defer termstate.HandlePanic()
			drainPTY(ctx, proc, mirror, log)
		})
	} else {
		routerSrc = source.NewPTY(proc.Master())
	}
	defer routerSrc.Close()

	rt := router.New(router.Options{
		Source:           routerSrc,
		Mirror:           mirror,
		Sender:           opts.Transport,
		Logger:           log,
		DebounceInterval: opts.Debounce,
		MaxBuffered:      opts.MaxBuffered,
	})

	routerDone := make(chan error, 1)
	groutine.Go(taskCtx, "output-router", func(ctx context.Context) {
		defer termstate.HandlePanic()
		routerDone <- rt.Run(ctx)
	})

	groutine.Go(taskCtx, "chat-inbound", func(ctx context.Context) {
		defer termstate.HandlePanic()
		inboundLoop(ctx, opts, translator, proc, log)
	})

	groutine.Go(taskCtx, "winch", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-winchCh:
				proc.Resize()
			}
		}
	})

	program := opts.Argv[0]
	_ = opts.Transport.Send(fmt.Sprintf("Bridging `%s`. Send /help for the key reference.", program))

	// Supervise: first of child exit, /quit (shutdown flag), host signal,
	// caller cancellation, or router failure wins.
	var routerErr error
	var reason string
	select {
	case <-proc.Exited():
		reason = "child exited"
	case <-termstate.Done():
		reason = "shutdown requested"
	case <-sigCh:
		termstate.RequestShutdown()
		reason = "signal received"
	case <-ctx.Done():
		reason = "cancelled"
	case routerErr = <-routerDone:
		reason = "output pipeline stopped"
		routerDone <- routerErr // keep the drain wait below uniform
	}
	log.WithField("reason", reason).Debug("bridge shutting down")

	if proc.Alive() {
		proc.Shutdown()
	}

	// After a natural child exit the PTY master may still hold the
	// child's last output, so the router first gets to read it to EOF.
	if reason == "child exited" && opts.OutputStream == "" {
		select {
		case routerErr = <-routerDone:
			routerDone <- routerErr
		case <-time.After(3 * time.Second):
		}
	}

	// Let the router observe EOF/cancellation and flush its tail before
	// the goodbye goes out.
	cancelTasks()
	select {
	case err := <-routerDone:
		if routerErr == nil {
			routerErr = err
		}
	case <-time.After(3 * time.Second):
		log.Warn("output router did not drain in time")
	}

	_ = opts.Transport.Send(fmt.Sprintf("Bridge to `%s` closed (%s).", program, reason))

	stats := proc.Stats()
	log.WithFields(logrus.Fields{
		"written": stats.WrittenBytes,
		"dropped": stats.DroppedBytes,
	}).Debug("PTY write stats")

	if routerErr != nil && !errors.Is(routerErr, context.Canceled) {
		return fmt.Errorf("output pipeline failed: %w", routerErr)
	}
	return nil
}

// inboundLoop dispatches chat messages: reserved commands are handled
// here, everything else is translated and written to the PTY.
func inboundLoop(ctx context.Context, opts *Options, tr *keys.Translator, proc *ptyproc.Proc, log *logrus.Logger) {
	program := opts.Argv[0]
	for in := range opts.Transport.Updates(ctx) {
		switch strings.TrimSpace(in.Text) {
		case "/quit":
			log.Debug("peer requested shutdown")
			termstate.RequestShutdown()
			return
		case "/help":
			_ = opts.Transport.Send(helpText(program, tr))
			continue
		case "/keys":
			_ = opts.Transport.Send(tr.Help())
			continue
		}

		writes := tr.Writes(in.Text)
		total := 0
		for _, w := range writes {
			total += len(w)
		}
		if total > opts.InputCeiling {
			// Truncate rather than flood the child; the notice keeps the
			// cut visible where the sender is looking.
			writes = truncateWrites(writes, opts.InputCeiling)
			_ = opts.Transport.Send(fmt.Sprintf("Input truncated to %d bytes.", opts.InputCeiling))
		}
		for i, w := range writes {
			if i > 0 {
				// A separate, slightly delayed write makes the submit a
				// distinct input event for edge-triggered TUIs.
				time.Sleep(opts.EnterDelay)
			}
			if _, err := proc.Write(w); err != nil {
				log.WithError(err).Debug("PTY write failed, dropping input")
				return
			}
		}
	}
}

// truncateWrites bounds the total byte count while keeping write-group
// boundaries intact.
func truncateWrites(writes [][]byte, ceiling int) [][]byte {
	var out [][]byte
	remaining := ceiling
	for _, w := range writes {
		if remaining <= 0 {
			break
		}
		if len(w) > remaining {
			w = w[:remaining]
		}
		out = append(out, w)
		remaining -= len(w)
	}
	return out
}

// drainPTY keeps the master readable while the file tailer feeds chat.
// Bytes go to the mirror verbatim, or to the void with mirroring off.
func drainPTY(ctx context.Context, proc *ptyproc.Proc, mirror io.Writer, log *logrus.Logger) {
	src := source.NewPTY(proc.Master())
	for {
		data, err := src.ReadNext(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				log.WithError(err).Debug("PTY drain stopped")
			}
			return
		}
		if mirror != nil && len(data) > 0 {
			_, _ = mirror.Write(data)
		}
	}
}
