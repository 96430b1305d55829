package termstate

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreEmitsSequenceOnce(t *testing.T) {
	var out bytes.Buffer
	Init(&out, -1)

	Restore()
	Restore()

	assert.Equal(t, RestoreSequence, out.String(), "idempotent: exactly one emission")
}

func TestRestoreSequenceContents(t *testing.T) {
	// The order is part of the contract: leave the alternate screen
	// before clearing, finish by homing the cursor.
	parts := []string{
		"\x1b[?1049l",
		"\x1b[?1000l", "\x1b[?1002l", "\x1b[?1003l", "\x1b[?1006l",
		"\x1b[0m",
		"\x1b[?25h",
		"\x1b[2J", "\x1b[H",
	}
	pos := -1
	for _, p := range parts {
		i := strings.Index(RestoreSequence, p)
		require.GreaterOrEqual(t, i, 0, "missing %q", p)
		require.Greater(t, i, pos, "%q out of order", p)
		pos = i
	}
}

func TestShutdownFlag(t *testing.T) {
	Init(&bytes.Buffer{}, -1)

	assert.False(t, ShutdownRequested())
	select {
	case <-Done():
		t.Fatal("Done closed before any request")
	default:
	}

	RequestShutdown()
	RequestShutdown() // second request is a no-op

	assert.True(t, ShutdownRequested())
	select {
	case <-Done():
	default:
		t.Fatal("Done not closed after request")
	}
}

func TestReinitResetsState(t *testing.T) {
	var first bytes.Buffer
	Init(&first, -1)
	RequestShutdown()
	Restore()

	var second bytes.Buffer
	Init(&second, -1)
	assert.False(t, ShutdownRequested())
	Restore()
	assert.Equal(t, RestoreSequence, second.String())
}

func TestHandlePanicRestoresAndRethrows(t *testing.T) {
	var out bytes.Buffer
	Init(&out, -1)

	func() {
		defer func() {
			r := recover()
			require.NotNil(t, r, "panic must propagate")
		}()
		defer HandlePanic()
		panic("boom")
	}()

	assert.Equal(t, RestoreSequence, out.String())
}
