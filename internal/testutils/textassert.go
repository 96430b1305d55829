// Package testutils holds assertion helpers shared by the package tests.
package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TextAssertOptions tunes the comparison.
type TextAssertOptions struct {
	IgnoreTrailingWhitespace bool `default:"false"`
	TrimSpace                bool `default:"false"`
	EnableColors             bool `default:"false"`
}

// TextOption is a functional option for configuring TextAsserter.
type TextOption func(*TextAssertOptions)

// TextAsserter compares multi-line text and reports a unified diff on
// mismatch, which beats require.Equal's single-string dump for
// terminal-output assertions.
type TextAsserter struct {
	t       *testing.T
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options.
func NewTextAsserter(t *testing.T, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, options: o}
}

// WithTrimSpace trims both inputs before comparing.
func WithTrimSpace() TextOption {
	return func(o *TextAssertOptions) { o.TrimSpace = true }
}

// WithIgnoreTrailingWhitespace drops per-line trailing blanks.
func WithIgnoreTrailingWhitespace() TextOption {
	return func(o *TextAssertOptions) { o.IgnoreTrailingWhitespace = true }
}

// Assert fails the test with a unified diff when actual differs from
// expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) {
	ta.t.Helper()
	a := ta.normalize(actual)
	e := ta.normalize(expected)
	if a == e {
		return
	}
	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	ta.t.Errorf("text mismatch:\n%s", ta.colorize(unified))
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	if !ta.options.IgnoreTrailingWhitespace {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func (ta *TextAsserter) colorize(diff string) string {
	if !ta.options.EnableColors {
		return diff
	}
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}
