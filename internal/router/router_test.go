package router

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/teletty/internal/testutils"
)

// scriptedSource replays fixed chunks then reports EOF.
type scriptedSource struct {
	chunks [][]byte
	i      int
}

func (s *scriptedSource) ReadNext(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.i >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *scriptedSource) Close() error { return nil }

// recordingSender captures outbound messages.
type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) Send(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, text)
	return nil
}

func (r *recordingSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func runRouter(t *testing.T, chunks [][]byte, mirror io.Writer) *recordingSender {
	t.Helper()
	sender := &recordingSender{}
	rt := New(Options{
		Source:           &scriptedSource{chunks: chunks},
		Mirror:           mirror,
		Sender:           sender,
		Logger:           quietLogger(),
		DebounceInterval: 10 * time.Millisecond,
		MaxBuffered:      1 << 20,
	})
	require.NoError(t, rt.Run(context.Background()))
	return sender
}

func TestMirrorIsByteExact(t *testing.T) {
	chunks := [][]byte{
		[]byte("plain "),
		[]byte("\x1b[31mred te"),
		[]byte("xt\x1b[0m\r\n"),
		[]byte("\x1b]0;title\x07done\n"),
	}
	var mirror bytes.Buffer
	runRouter(t, chunks, &mirror)

	var want bytes.Buffer
	for _, c := range chunks {
		want.Write(c)
	}
	testutils.NewTextAsserter(t).Assert(mirror.String(), want.String())
}

func TestChatTextIsSanitized(t *testing.T) {
	chunks := [][]byte{
		[]byte("a \x1b[1;32mgreen\x1b[0m word\r\n"),
		[]byte("\x1b[2Jcleared\n"),
	}
	sender := runRouter(t, chunks, nil)

	msgs := sender.all()
	require.NotEmpty(t, msgs)
	joined := strings.Join(msgs, "\n")
	assert.NotContains(t, joined, "\x1b")
	assert.Contains(t, joined, "a green word")
	assert.Contains(t, joined, "cleared")
}

func TestSequenceSplitAcrossReadsStaysIntact(t *testing.T) {
	chunks := [][]byte{
		[]byte("before\x1b[3"),
		[]byte("1mmid\x1b[0mafter\n"),
	}
	sender := runRouter(t, chunks, nil)

	msgs := sender.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "beforemidafter", msgs[0])
}

func TestInvalidUTF8IsReplaced(t *testing.T) {
	sender := runRouter(t, [][]byte{{0xff, 0xfe, 'o', 'k', '\n'}}, nil)
	msgs := sender.all()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "ok")
	assert.True(t, strings.ContainsRune(msgs[0], '�'))
}

func TestTrailingPartialLineFlushedAtEOF(t *testing.T) {
	sender := runRouter(t, [][]byte{[]byte("no trailing newline")}, nil)
	msgs := sender.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "no trailing newline", msgs[0])
}

func TestWhitespaceOnlyBatchesAreDropped(t *testing.T) {
	sender := runRouter(t, [][]byte{[]byte("\x1b[31m\x1b[0m \r\n \n")}, nil)
	assert.Empty(t, sender.all())
}

func TestIdleTicksAreIgnored(t *testing.T) {
	chunks := [][]byte{nil, []byte("data\n"), nil}
	sender := runRouter(t, chunks, nil)
	msgs := sender.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "data", msgs[0])
}

func TestCancellationDrainsPipeline(t *testing.T) {
	sender := &recordingSender{}
	ctx, cancel := context.WithCancel(context.Background())

	blocking := &blockingSource{release: make(chan struct{})}
	rt := New(Options{
		Source:           blocking,
		Sender:           sender,
		Logger:           quietLogger(),
		DebounceInterval: time.Hour, // only the drain path may flush
		MaxBuffered:      1 << 20,
	})

	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	blocking.feed("buffered line\n")
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("router did not stop on cancellation")
	}
	msgs := sender.all()
	require.Len(t, msgs, 1)
	assert.Equal(t, "buffered line", msgs[0])
}

// blockingSource yields one fed chunk then blocks until cancellation.
type blockingSource struct {
	mu      sync.Mutex
	pending []byte
	release chan struct{}
}

func (b *blockingSource) feed(s string) {
	b.mu.Lock()
	b.pending = []byte(s)
	b.mu.Unlock()
}

func (b *blockingSource) ReadNext(ctx context.Context) ([]byte, error) {
	b.mu.Lock()
	p := b.pending
	b.pending = nil
	b.mu.Unlock()
	if p != nil {
		return p, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return nil, io.EOF
	}
}

func (b *blockingSource) Close() error { return nil }
