// Package render turns bot replies (GitHub-flavored markdown) into HTML for
// the browser and ANSI text for the terminal.
package render

// Renderer converts markdown into a displayable form.
type Renderer interface {
	Render(markdown string) (string, error)
}
