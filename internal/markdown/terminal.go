package markdown

import (
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

// Terminal renders reply markdown for a terminal.
type Terminal struct {
	r *glamour.TermRenderer
}

// NewTerminal creates a renderer wrapping at width. Without color the
// plain notty style is used.
func NewTerminal(width int, color bool) (*Terminal, error) {
	if width <= 0 {
		width = 80
	}
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if color {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStylePath("notty"))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	return &Terminal{r: r}, nil
}

// Render returns src formatted for the terminal. On failure the source is
// returned unchanged.
func (t *Terminal) Render(src string) string {
	out, err := t.r.Render(src)
	if err != nil {
		return src
	}
	return strings.TrimRight(out, "\n") + "\n"
}

// TerminalWidth is the width of f, or 80 when f is not a terminal.
func TerminalWidth(f *os.File) int {
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
