// Package keys turns chat text into the byte writes a terminal program
// expects. Messages are whitespace-tokenized; slash tokens name special
// keys or attach modifiers to the following token, anything else is sent
// literally.
//
// The base-key table and the modifier transformation are plain data so the
// /help and /keys replies are generated from the same source of truth the
// translator runs on.
package keys

import (
	"fmt"
	"os"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Modifier bits follow the xterm parameterized-sequence encoding, where
// the CSI parameter is 1 + the bitmask.
const (
	ModShift = 1 << iota
	ModAlt
	ModCtrl
)

const esc = "\x1b"

// Key is one named entry of the base table.
type Key struct {
	// Plain is the unmodified byte sequence.
	Plain []byte
	// CSIParam and CSIFinal describe the xterm modified form
	// ESC [ <CSIParam> ; <1+mods> <CSIFinal>. CSIFinal 0 means the key has
	// no parameterized form and modifiers are dropped best-effort.
	CSIParam int
	CSIFinal byte
	// Help is the one-line description used by /help generation.
	Help string
}

// modTokens maps modifier tokens to their bits.
var modTokens = map[string]int{
	"/c": ModCtrl,
	"/a": ModAlt,
	"/s": ModShift,
}

// baseTable builds the named-key table in presentation order.
func baseTable() *orderedmap.OrderedMap[string, Key] {
	t := orderedmap.New[string, Key]()
	add := func(name string, k Key) { t.Set(name, k) }

	add("/enter", Key{Plain: []byte("\r"), Help: "Enter (carriage return)"})
	add("/esc", Key{Plain: []byte(esc), Help: "Escape"})
	add("/t", Key{Plain: []byte("\t"), Help: "Tab"})
	add("/b", Key{Plain: []byte{0x7f}, Help: "Backspace (DEL)"})
	add("/d", Key{Plain: []byte(esc + "[3~"), CSIParam: 3, CSIFinal: '~', Help: "Delete"})
	add("/up", Key{Plain: []byte(esc + "[A"), CSIParam: 1, CSIFinal: 'A', Help: "Arrow up"})
	add("/down", Key{Plain: []byte(esc + "[B"), CSIParam: 1, CSIFinal: 'B', Help: "Arrow down"})
	add("/right", Key{Plain: []byte(esc + "[C"), CSIParam: 1, CSIFinal: 'C', Help: "Arrow right"})
	add("/left", Key{Plain: []byte(esc + "[D"), CSIParam: 1, CSIFinal: 'D', Help: "Arrow left"})
	add("/home", Key{Plain: []byte(esc + "[H"), CSIParam: 1, CSIFinal: 'H', Help: "Home"})
	add("/end", Key{Plain: []byte(esc + "[F"), CSIParam: 1, CSIFinal: 'F', Help: "End"})
	add("/pageup", Key{Plain: []byte(esc + "[5~"), CSIParam: 5, CSIFinal: '~', Help: "Page up"})
	add("/pagedown", Key{Plain: []byte(esc + "[6~"), CSIParam: 6, CSIFinal: '~', Help: "Page down"})
	add("/insert", Key{Plain: []byte(esc + "[2~"), CSIParam: 2, CSIFinal: '~', Help: "Insert"})

	// F1-F4 use SS3 finals, F5+ the tilde forms. All take the standard
	// xterm modifier parameter.
	ss3 := []byte{'P', 'Q', 'R', 'S'}
	for i, f := range ss3 {
		add(fmt.Sprintf("/f%d", i+1), Key{
			Plain:    []byte(esc + "O" + string(f)),
			CSIParam: 1, CSIFinal: f,
			Help: fmt.Sprintf("F%d", i+1),
		})
	}
	tilde := map[int]int{5: 15, 6: 17, 7: 18, 8: 19, 9: 20, 10: 21, 11: 23, 12: 24}
	for fn := 5; fn <= 12; fn++ {
		p := tilde[fn]
		add(fmt.Sprintf("/f%d", fn), Key{
			Plain:    []byte(fmt.Sprintf("%s[%d~", esc, p)),
			CSIParam: p, CSIFinal: '~',
			Help: fmt.Sprintf("F%d", fn),
		})
	}
	return t
}

// Translator converts one chat message into PTY write groups.
type Translator struct {
	table       *orderedmap.OrderedMap[string, Key]
	appendEnter bool
}

// NewTranslator builds a translator with the standard key table.
// appendEnter controls whether a trailing carriage return is emitted as a
// separate write after each message.
func NewTranslator(appendEnter bool) *Translator {
	return &Translator{table: baseTable(), appendEnter: appendEnter}
}

// LoadOverrides rebinds named keys from a YAML file mapping token names
// (without the slash) to replacement byte strings, e.g.
//
//	b: "\b"        # programs that want 0x08 backspace
//	enter: "\n"
//
// Unknown names are rejected so typos do not silently bind nothing.
func (tr *Translator) LoadOverrides(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read keymap %s: %w", path, err)
	}
	var m map[string]string
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("failed to parse keymap %s: %w", path, err)
	}
	for name, seq := range m {
		token := "/" + strings.TrimPrefix(name, "/")
		k, ok := tr.table.Get(token)
		if !ok {
			return fmt.Errorf("keymap %s: unknown key %q", path, name)
		}
		k.Plain = []byte(seq)
		tr.table.Set(token, k)
	}
	return nil
}

// Writes tokenizes msg and returns the byte writes to issue, in order.
// All payload bytes form one write; the optional trailing carriage return
// is a separate write so TUIs that latch on input-edge boundaries see the
// submit distinctly from the payload.
//
// Consecutive literal tokens are rejoined with a single space; named keys
// abut their neighbors so "/esc :wq /enter" types what vi expects.
func (tr *Translator) Writes(msg string) [][]byte {
	var payload []byte
	mods := 0
	prevLiteral := false

	for _, tok := range strings.Fields(msg) {
		if bit, ok := modTokens[tok]; ok {
			mods |= bit
			continue
		}
		b, literal := tr.tokenBytes(tok, mods)
		if literal && prevLiteral {
			payload = append(payload, ' ')
		}
		payload = append(payload, b...)
		prevLiteral = literal
		mods = 0
	}

	var writes [][]byte
	if len(payload) > 0 {
		writes = append(writes, payload)
	}
	if tr.appendEnter {
		writes = append(writes, []byte("\r"))
	}
	return writes
}

// tokenBytes resolves one non-modifier token under the accumulated
// modifier mask. The second result reports whether the token fell through
// to literal text.
func (tr *Translator) tokenBytes(tok string, mods int) ([]byte, bool) {
	if k, ok := tr.table.Get(strings.ToLower(tok)); ok {
		if mods != 0 && k.CSIFinal != 0 {
			return []byte(fmt.Sprintf("%s[%d;%d%c", esc, k.CSIParam, 1+mods, k.CSIFinal)), false
		}
		// Modifiers on keys without a parameterized form are dropped.
		return k.Plain, false
	}
	return literalBytes(tok, mods), true
}

// literalBytes applies modifiers to literal text. The transformations
// commute, so stacked modifiers are order-independent: shift uppercases,
// control maps an ASCII letter to its control code, alt prefixes ESC.
func literalBytes(tok string, mods int) []byte {
	if mods&ModShift != 0 {
		tok = strings.ToUpper(tok)
	}
	b := []byte(tok)
	if mods&ModCtrl != 0 && len(tok) == 1 {
		c := tok[0]
		switch {
		case c >= 'a' && c <= 'z':
			b = []byte{c & 0x1f}
		case c >= 'A' && c <= 'Z':
			b = []byte{c & 0x1f}
		case c >= '@' && c <= '_':
			b = []byte{c & 0x1f}
		}
	}
	if mods&ModAlt != 0 {
		b = append([]byte(esc), b...)
	}
	return b
}

// Help renders the named-key reference in table order.
func (tr *Translator) Help() string {
	var sb strings.Builder
	sb.WriteString("Key tokens (whitespace separated):\n")
	for pair := tr.table.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(&sb, "  %-10s %s\n", pair.Key, pair.Value.Help)
	}
	sb.WriteString("Modifiers (attach to the next token, stackable):\n")
	sb.WriteString("  /c         Control\n")
	sb.WriteString("  /a         Alt/Meta\n")
	sb.WriteString("  /s         Shift\n")
	sb.WriteString("Anything else is sent as literal text.\n")
	sb.WriteString("Reserved: /quit stops the bridge, /help and /keys reply here.\n")
	return sb.String()
}
