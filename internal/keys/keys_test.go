package keys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(t *testing.T, tr *Translator, msg string) []byte {
	t.Helper()
	writes := tr.Writes(msg)
	require.NotEmpty(t, writes)
	return writes[0]
}

func TestLiteralWithEnter(t *testing.T) {
	tr := NewTranslator(true)
	writes := tr.Writes("hello")
	require.Len(t, writes, 2)
	assert.Equal(t, []byte("hello"), writes[0])
	assert.Equal(t, []byte("\r"), writes[1], "the submit must be its own write")
}

func TestLiteralWithoutEnter(t *testing.T) {
	tr := NewTranslator(false)
	writes := tr.Writes("hello")
	require.Len(t, writes, 1)
	assert.Equal(t, []byte("hello"), writes[0])
}

func TestLiteralWordsRejoined(t *testing.T) {
	tr := NewTranslator(false)
	assert.Equal(t, []byte("ls -la"), payload(t, tr, "ls   -la"))
}

func TestNamedKeysAbutLiterals(t *testing.T) {
	tr := NewTranslator(false)
	assert.Equal(t, []byte("\x1b:wq\r"), payload(t, tr, "/esc :wq /enter"))
}

func TestControlLetter(t *testing.T) {
	tr := NewTranslator(false)
	assert.Equal(t, []byte{0x03}, payload(t, tr, "/c c"))
	assert.Equal(t, []byte{0x01}, payload(t, tr, "/c a"))
	assert.Equal(t, []byte{0x1a}, payload(t, tr, "/c z"))
}

func TestModifierStackingIsOrderIndependent(t *testing.T) {
	tr := NewTranslator(false)
	assert.Equal(t, payload(t, tr, "/c /s a"), payload(t, tr, "/s /c a"))
	assert.Equal(t, []byte{0x01}, payload(t, tr, "/c /s a"))
}

func TestAltLetter(t *testing.T) {
	tr := NewTranslator(false)
	assert.Equal(t, []byte("\x1bx"), payload(t, tr, "/a x"))
}

func TestShiftUppercases(t *testing.T) {
	tr := NewTranslator(false)
	assert.Equal(t, []byte("HELLO"), payload(t, tr, "/s hello"))
}

func TestNamedKeys(t *testing.T) {
	tr := NewTranslator(false)
	cases := map[string][]byte{
		"/enter":    []byte("\r"),
		"/esc":      []byte("\x1b"),
		"/t":        []byte("\t"),
		"/b":        {0x7f},
		"/d":        []byte("\x1b[3~"),
		"/up":       []byte("\x1b[A"),
		"/down":     []byte("\x1b[B"),
		"/right":    []byte("\x1b[C"),
		"/left":     []byte("\x1b[D"),
		"/home":     []byte("\x1b[H"),
		"/end":      []byte("\x1b[F"),
		"/pageup":   []byte("\x1b[5~"),
		"/pagedown": []byte("\x1b[6~"),
		"/insert":   []byte("\x1b[2~"),
		"/f1":       []byte("\x1bOP"),
		"/f4":       []byte("\x1bOS"),
		"/f5":       []byte("\x1b[15~"),
		"/f12":      []byte("\x1b[24~"),
	}
	for msg, want := range cases {
		assert.Equal(t, want, payload(t, tr, msg), "key %s", msg)
	}
}

func TestModifiedSpecialKeys(t *testing.T) {
	tr := NewTranslator(false)
	assert.Equal(t, []byte("\x1b[1;5A"), payload(t, tr, "/c /up"))
	assert.Equal(t, []byte("\x1b[1;2C"), payload(t, tr, "/s /right"))
	assert.Equal(t, []byte("\x1b[1;3B"), payload(t, tr, "/a /down"))
	assert.Equal(t, []byte("\x1b[5;5~"), payload(t, tr, "/c /pageup"))
	assert.Equal(t, []byte("\x1b[1;5P"), payload(t, tr, "/c /f1"))
	assert.Equal(t, []byte("\x1b[15;5~"), payload(t, tr, "/c /f5"))
}

func TestUnknownComboDropsModifier(t *testing.T) {
	tr := NewTranslator(false)
	// /enter has no parameterized form: best effort is the base key.
	assert.Equal(t, []byte("\r"), payload(t, tr, "/c /enter"))
}

func TestModifierWithoutTargetIsIgnored(t *testing.T) {
	tr := NewTranslator(false)
	assert.Empty(t, tr.Writes("/c"))
}

// Literal-only messages survive a round trip through their own string
// representation.
func TestLiteralRoundTrip(t *testing.T) {
	tr := NewTranslator(false)
	first := payload(t, tr, "echo test done")
	second := payload(t, tr, string(first))
	assert.Equal(t, first, second)
}

func TestHelpListsEveryKey(t *testing.T) {
	tr := NewTranslator(true)
	help := tr.Help()
	for _, tok := range []string{"/enter", "/up", "/f12", "/c", "/quit"} {
		assert.Contains(t, help, tok)
	}
}

func TestLoadOverrides(t *testing.T) {
	tr := NewTranslator(false)
	path := filepath.Join(t.TempDir(), "keymap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("b: \"\\b\"\n"), 0o600))

	require.NoError(t, tr.LoadOverrides(path))
	assert.Equal(t, []byte{0x08}, payload(t, tr, "/b"))
}

func TestLoadOverridesRejectsUnknownKey(t *testing.T) {
	tr := NewTranslator(false)
	path := filepath.Join(t.TempDir(), "keymap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nosuchkey: \"x\"\n"), 0o600))

	assert.Error(t, tr.LoadOverrides(path))
}
