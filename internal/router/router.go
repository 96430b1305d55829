// Package router drains the output source and forks it two ways: raw
// bytes to the local mirror, sanitized lines to the debounced aggregator
// and on to chat. The mirror path is byte-exact; the chat path is
// best-effort.
package router

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/teletty/internal/aggregate"
	"github.com/srg/teletty/internal/ansiseq"
	"github.com/srg/teletty/internal/source"
)

// Sender is the outbound chat operation the router depends on.
type Sender interface {
	Send(text string) error
}

// Options configures a Router.
type Options struct {
	Source source.Source
	Mirror io.Writer // nil disables local mirroring
	Sender Sender
	Logger *logrus.Logger

	// DebounceInterval and MaxBuffered parameterize the aggregator.
	DebounceInterval time.Duration
	MaxBuffered      int
}

// Router owns the output pipeline state: the ANSI chunker tail, the
// partial trailing line, and the aggregator.
type Router struct {
	src     source.Source
	mirror  io.Writer
	sender  Sender
	log     *logrus.Logger
	chunker ansiseq.Chunker
	agg     *aggregate.Aggregator
	partial string
}

// New builds a Router. The aggregator flush callback joins batches and
// ships them through the sender.
func New(opts Options) *Router {
	r := &Router{
		src:    opts.Source,
		mirror: opts.Mirror,
		sender: opts.Sender,
		log:    opts.Logger,
	}
	r.agg = aggregate.New(opts.DebounceInterval, opts.MaxBuffered, r.ship)
	return r
}

// Run consumes the source until EOF (child exit), fatal error, or
// cancellation. On EOF the remaining pipeline state is drained so the
// last output still reaches chat.
func (r *Router) Run(ctx context.Context) error {
	defer r.agg.Close()
	for {
		data, err := r.src.ReadNext(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				r.log.Debug("output source finished, draining")
				r.drain()
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				r.drain()
				return nil
			default:
				r.log.WithError(err).Error("output source failed")
				return err
			}
		}
		if len(data) == 0 {
			continue // idle tick from a tailed file
		}
		r.consume(data)
	}
}

// consume routes one read worth of bytes.
func (r *Router) consume(data []byte) {
	if r.mirror != nil {
		_, _ = r.mirror.Write(data)
	}
	safe := r.chunker.Feed(data)
	r.push(safe)
}

// push sanitizes a safe chunk and feeds completed lines to the aggregator.
func (r *Router) push(safe []byte) {
	if len(safe) == 0 {
		return
	}
	clean := ansiseq.Strip(safe)
	if len(clean) == 0 {
		return
	}
	text := strings.ToValidUTF8(string(clean), "�")
	text = normalizeNewlines(text)

	text = r.partial + text
	lines := strings.Split(text, "\n")
	r.partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		r.agg.Push(line)
	}
}

// drain flushes the chunker tail and the trailing partial line so nothing
// buffered is lost at end of stream.
func (r *Router) drain() {
	r.push(r.chunker.Flush())
	if r.partial != "" {
		r.agg.Push(r.partial)
		r.partial = ""
	}
	r.agg.Close()
}

// ship is the aggregator flush callback: one batch becomes one chat
// message. Send errors are already logged at debug inside the sender;
// dropping the message is the documented behavior.
func (r *Router) ship(lines []string) {
	msg := strings.Join(lines, "\n")
	if strings.TrimSpace(msg) == "" {
		return
	}
	_ = r.sender.Send(msg)
}

// normalizeNewlines folds the terminal line-end forms into \n so the line
// splitter sees one terminator. Lone carriage returns (progress-bar
// rewrites) also count as line boundaries for the chat view.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
