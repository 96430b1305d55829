// Package ansiseq splits and sanitizes byte streams that may contain ANSI
// escape sequences arriving in arbitrary read-sized pieces.
//
// The chunker guarantees that emitted chunks never end inside a partially
// received sequence, so a consumer that forwards chunks verbatim to a
// terminal cannot corrupt cursor or mode state at chunk boundaries. The
// unfinished suffix is carried over into the next Feed call.
//
// Recognized sequence forms:
//
//	ESC                    lone escape (possibly the start of anything)
//	ESC [ ... final        CSI, final byte in 0x40..0x7E
//	ESC ] ... BEL | ESC \  OSC string
//	ESC x                  any other two-byte sequence
package ansiseq

const (
	esc = 0x1b
	bel = 0x07

	// MaxTail bounds the retained suffix. A well-formed sequence never
	// gets this long; once exceeded the tail is flushed verbatim and the
	// receiver sees a best-effort stream.
	MaxTail = 4096
)

// Chunker accumulates the trailing partial escape sequence between feeds.
// The zero value is ready to use.
type Chunker struct {
	tail []byte
}

// Feed appends p to any retained tail and returns the longest prefix that
// does not end inside a partial escape sequence. The remainder is retained
// for the next call. Concatenating the returned chunks plus the final
// Tail() reproduces the input byte stream exactly.
func (c *Chunker) Feed(p []byte) []byte {
	if len(c.tail) == 0 && len(p) == 0 {
		return nil
	}
	buf := p
	if len(c.tail) > 0 {
		buf = append(c.tail, p...)
		c.tail = nil
	}

	cut := partialStart(buf)
	safe := buf[:cut]
	rest := buf[cut:]

	if len(rest) > MaxTail {
		// Runaway "sequence"; emit everything rather than buffer unboundedly.
		c.tail = nil
		return buf
	}
	if len(rest) > 0 {
		c.tail = append([]byte(nil), rest...)
	}
	return safe
}

// Tail returns the currently retained partial sequence without consuming it.
func (c *Chunker) Tail() []byte { return c.tail }

// Flush hands back the retained tail and resets the chunker.
func (c *Chunker) Flush() []byte {
	t := c.tail
	c.tail = nil
	return t
}

// partialStart scans buf and returns the index where a trailing
// unterminated escape sequence begins, or len(buf) if there is none.
func partialStart(buf []byte) int {
	n := len(buf)
	i := 0
	for i < n {
		if buf[i] != esc {
			i++
			continue
		}
		end, complete := sequenceEnd(buf, i)
		if !complete {
			return i
		}
		i = end
	}
	return n
}

// sequenceEnd returns the index just past the escape sequence starting at
// buf[i] (which must be ESC) and whether the sequence terminator is present.
// Malformed sequences are cut short at the offending byte so that stray
// escapes cannot swallow unrelated data.
func sequenceEnd(buf []byte, i int) (end int, complete bool) {
	n := len(buf)
	if i+1 >= n {
		return i, false // lone ESC at the end
	}
	switch buf[i+1] {
	case '[': // CSI: parameter/intermediate bytes then a final in 0x40..0x7E
		for j := i + 2; j < n; j++ {
			b := buf[j]
			if b >= 0x40 && b <= 0x7e {
				return j + 1, true
			}
			if b < 0x20 || b > 0x3f {
				// Not a valid CSI byte; treat the sequence as aborted here.
				return j, true
			}
		}
		return i, false
	case ']': // OSC: terminated by BEL or ST (ESC \)
		for j := i + 2; j < n; j++ {
			switch buf[j] {
			case bel:
				return j + 1, true
			case esc:
				if j+1 < n {
					if buf[j+1] == '\\' {
						return j + 2, true
					}
					// ESC not followed by '\' aborts the string; the new
					// ESC starts its own sequence.
					return j, true
				}
				return i, false
			}
		}
		return i, false
	default: // two-byte ESC x
		return i + 2, true
	}
}

// Strip removes all escape sequences from p, including any unterminated
// trailing one, and returns the remaining payload bytes.
func Strip(p []byte) []byte {
	out := make([]byte, 0, len(p))
	n := len(p)
	i := 0
	for i < n {
		if p[i] != esc {
			out = append(out, p[i])
			i++
			continue
		}
		end, complete := sequenceEnd(p, i)
		if !complete {
			break // partial tail: drop it, nothing after an unfinished ESC is payload
		}
		i = end
	}
	return out
}
