package render

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/glamour"
)

// Options configures the terminal renderer.
type Options struct {
	// Width defines the maximum output width (default: 80)
	Width int

	// Style is a glamour standard style name: "dark", "light", "notty", "auto"
	Style string

	// EnableEmoji converts :emoji: to unicode characters
	EnableEmoji bool
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		Width:       80,
		Style:       "dark",
		EnableEmoji: true,
	}
}

// WithWidth returns Options with the specified width.
func (o Options) WithWidth(width int) Options {
	o.Width = width
	return o
}

// WithStyle returns Options with the specified style.
func (o Options) WithStyle(style string) Options {
	o.Style = style
	return o
}

// TerminalRenderer renders markdown for ANSI terminals.
// glamour.TermRenderer is not safe for concurrent Render calls, so renderers
// are pooled rather than shared.
type TerminalRenderer struct {
	opts Options
	pool sync.Pool
}

// NewTerminalRenderer validates opts by building one renderer up front.
func NewTerminalRenderer(opts Options) (*TerminalRenderer, error) {
	if opts.Width <= 0 {
		opts.Width = DefaultOptions().Width
	}
	if opts.Style == "" {
		opts.Style = DefaultOptions().Style
	}

	first, err := createRenderer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal renderer: %w", err)
	}

	t := &TerminalRenderer{opts: opts}
	t.pool.Put(first)
	return t, nil
}

func (t *TerminalRenderer) Render(markdown string) (string, error) {
	r, ok := t.pool.Get().(*glamour.TermRenderer)
	if !ok || r == nil {
		var err error
		r, err = createRenderer(t.opts)
		if err != nil {
			return "", err
		}
	}
	defer t.pool.Put(r)

	return r.Render(markdown)
}

// createRenderer creates a new TermRenderer with the specified options.
func createRenderer(opts Options) (*glamour.TermRenderer, error) {
	rendererOpts := []glamour.TermRendererOption{
		glamour.WithStandardStyle(opts.Style),
		glamour.WithWordWrap(opts.Width),
		glamour.WithPreservedNewLines(),
	}

	if opts.EnableEmoji {
		rendererOpts = append(rendererOpts, glamour.WithEmoji())
	}

	return glamour.NewTermRenderer(rendererOpts...)
}
