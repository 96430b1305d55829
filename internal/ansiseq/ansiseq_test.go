package ansiseq

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedPlainTextPassesThrough(t *testing.T) {
	var c Chunker
	safe := c.Feed([]byte("hello world"))
	assert.Equal(t, []byte("hello world"), safe)
	assert.Empty(t, c.Tail())
}

func TestFeedRetainsPartialCSI(t *testing.T) {
	var c Chunker

	safe := c.Feed([]byte("abc\x1b[3"))
	assert.Equal(t, []byte("abc"), safe)
	assert.Equal(t, []byte("\x1b[3"), c.Tail())

	safe = c.Feed([]byte("1mdef"))
	assert.Equal(t, []byte("\x1b[31mdef"), safe)
	assert.Empty(t, c.Tail())
}

func TestFeedRetainsLoneEscape(t *testing.T) {
	var c Chunker
	safe := c.Feed([]byte("x\x1b"))
	assert.Equal(t, []byte("x"), safe)
	assert.Equal(t, []byte("\x1b"), c.Tail())
}

func TestFeedOSCTerminators(t *testing.T) {
	t.Run("BEL", func(t *testing.T) {
		var c Chunker
		safe := c.Feed([]byte("\x1b]0;title"))
		assert.Empty(t, safe)
		safe = c.Feed([]byte("\x07after"))
		assert.Equal(t, []byte("\x1b]0;title\x07after"), safe)
	})

	t.Run("ST", func(t *testing.T) {
		var c Chunker
		safe := c.Feed([]byte("\x1b]0;t\x1b\\after"))
		assert.Equal(t, []byte("\x1b]0;t\x1b\\after"), safe)
	})

	t.Run("ST split at the escape", func(t *testing.T) {
		var c Chunker
		safe := c.Feed([]byte("\x1b]0;t\x1b"))
		assert.Empty(t, safe)
		safe = c.Feed([]byte("\\x"))
		assert.Equal(t, []byte("\x1b]0;t\x1b\\x"), safe)
	})
}

func TestFeedTwoByteSequenceIsComplete(t *testing.T) {
	var c Chunker
	safe := c.Feed([]byte("\x1bMrest"))
	assert.Equal(t, []byte("\x1bMrest"), safe)
	assert.Empty(t, c.Tail())
}

func TestFeedFlushesRunawayTail(t *testing.T) {
	var c Chunker
	huge := append([]byte("\x1b]"), bytes.Repeat([]byte("x"), MaxTail+16)...)
	safe := c.Feed(huge)
	assert.Equal(t, huge, safe)
	assert.Empty(t, c.Tail())
}

// Concatenating emitted chunks plus the final tail must reproduce the
// input stream regardless of where reads split it.
func TestFeedReassemblyIdentity(t *testing.T) {
	stream := []byte("plain \x1b[1;32mgreen\x1b[0m \x1b]0;title\x07 \x1bM more \x1b[2J\x1b[H tail\x1b[5")

	for _, step := range []int{1, 2, 3, 5, 7, 16, len(stream)} {
		var c Chunker
		var got bytes.Buffer
		for i := 0; i < len(stream); i += step {
			end := i + step
			if end > len(stream) {
				end = len(stream)
			}
			got.Write(c.Feed(stream[i:end]))
		}
		got.Write(c.Flush())
		require.Equal(t, stream, got.Bytes(), "split size %d", step)
	}
}

func TestStripRemovesSequences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"color", "a\x1b[31mred\x1b[0mb", "aredb"},
		{"cursor", "\x1b[2J\x1b[Hclean", "clean"},
		{"osc", "\x1b]0;title\x07text", "text"},
		{"two byte", "\x1bMx", "x"},
		{"modified arrow", "\x1b[1;5Aup", "up"},
		{"partial tail dropped", "data\x1b[3", "data"},
		{"lone esc dropped", "data\x1b", "data"},
		{"plain", "no sequences", "no sequences"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, []byte(tc.want), Strip([]byte(tc.in)))
		})
	}
}

func TestStripLeavesNoEscapes(t *testing.T) {
	in := []byte("x\x1b[31m\x1b]2;t\x07\x1bMy\x1b[1;5H")
	out := Strip(in)
	assert.NotContains(t, string(out), "\x1b")
}
