package app

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	glamouransi "github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	xansi "github.com/charmbracelet/x/ansi"
)

// maxRenderedSegments bounds the memo of finished segments; it is cleared
// once full.
const maxRenderedSegments = 512

type rendererKey struct {
	width int
	dark  bool
}

type renderedKey struct {
	rendererKey
	text string
}

// markdownCache holds one glamour renderer per width and palette, plus the
// output of segments that no longer change.
type markdownCache struct {
	mu        sync.Mutex
	dark      bool
	renderers map[rendererKey]*glamour.TermRenderer
	rendered  map[renderedKey]string
}

var markdown = newMarkdownCache()

func newMarkdownCache() *markdownCache {
	return &markdownCache{
		dark:      true,
		renderers: map[rendererKey]*glamour.TermRenderer{},
		rendered:  map[renderedKey]string{},
	}
}

// setDark switches the palette and reports whether it changed.
func (c *markdownCache) setDark(dark bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dark == dark {
		return false
	}
	c.dark = dark
	c.rendered = map[renderedKey]string{}
	return true
}

func (c *markdownCache) render(text string, width int, memo bool) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}
	c.mu.Lock()
	key := renderedKey{rendererKey: rendererKey{width: width, dark: c.dark}, text: text}
	if out, ok := c.rendered[key]; ok {
		c.mu.Unlock()
		return out
	}
	r := c.rendererLocked(key.rendererKey)
	c.mu.Unlock()
	if r == nil {
		return text
	}

	out, err := r.Render(text)
	if err != nil {
		return text
	}
	out = xansi.Hardwrap(strings.TrimRight(out, "\n"), width, true)
	out = strings.TrimRight(out, "\n")
	if memo {
		c.mu.Lock()
		if len(c.rendered) >= maxRenderedSegments {
			c.rendered = map[renderedKey]string{}
		}
		c.rendered[key] = out
		c.mu.Unlock()
	}
	return out
}

func (c *markdownCache) rendererLocked(key rendererKey) *glamour.TermRenderer {
	if r, ok := c.renderers[key]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(buildStyleConfig(key.dark)),
		glamour.WithWordWrap(key.width),
	)
	if err != nil {
		return nil
	}
	c.renderers[key] = r
	return r
}

// renderMarkdown renders finished text.
func renderMarkdown(text string, width int) string {
	return markdown.render(text, width, true)
}

// renderPartialMarkdown renders text that is still streaming. An unclosed
// code fence is closed so the rest of the reply does not turn into code, and
// the result is not memoized.
func renderPartialMarkdown(text string, width int) string {
	return markdown.render(closeOpenFence(text), width, false)
}

func closeOpenFence(text string) string {
	open := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			open = !open
		}
	}
	if !open {
		return text
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + "```"
}

func buildStyleConfig(dark bool) glamouransi.StyleConfig {
	base := styles.LightStyleConfig
	if dark {
		base = styles.DarkStyleConfig
	}
	// Bubbles get their padding from lipgloss.
	base.Document.StylePrimitive.BlockPrefix = ""
	base.Document.StylePrimitive.BlockSuffix = ""
	zero := uint(0)
	base.Document.Margin = &zero
	return base
}

// escapeMarkdown keeps user text literal when it goes through the renderer.
func escapeMarkdown(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.ReplaceAll(line, "`", "\\`")
		body := strings.TrimLeft(line, " \t")
		indent := line[:len(line)-len(body)]
		if startsBlock(body) {
			line = indent + "\\" + body
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func startsBlock(line string) bool {
	for _, prefix := range []string{"#", ">", "- ", "* ", "+ "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	return digits > 0 && strings.HasPrefix(line[digits:], ". ")
}
