// ABOUTME: Markdown rendering for chat platforms using goldmark
// ABOUTME: RenderHTML produces formatted bodies; Plain flattens Markdown for plain-text fallbacks

package text

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer/html"
	gmtext "github.com/yuin/goldmark/text"
)

// OmittedSuffix is appended to text cut by Truncate.
const OmittedSuffix = "...(omitted)"

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// RenderHTML converts Markdown to HTML. Raw HTML in the input is dropped.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// Plain flattens Markdown into text that reads well unformatted:
// emphasis markers are dropped, links become "text (url)" without
// tracking parameters, list items are prefixed with "・", quotes with
// "> ", and tables are replaced by a placeholder.
func Plain(markdown string) string {
	source := []byte(markdown)
	doc := md.Parser().Parse(gmtext.NewReader(source))

	var w strings.Builder
	walkPlain(&w, doc, source)
	return strings.TrimSpace(w.String())
}

func walkPlain(w *strings.Builder, n ast.Node, source []byte) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writePlain(w, c, source)
	}
}

func writePlain(w *strings.Builder, n ast.Node, source []byte) {
	switch n := n.(type) {
	case *ast.Text:
		w.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			w.WriteByte('\n')
		}
	case *ast.String:
		w.Write(n.Value)
	case *ast.Emphasis, *extast.Strikethrough, *ast.CodeSpan:
		walkPlain(w, n, source)
	case *ast.Link:
		label := childText(n, source)
		dest := StripTracking(string(n.Destination))
		if label == "" || label == dest {
			w.WriteString(dest)
		} else {
			fmt.Fprintf(w, "%s (%s)", label, dest)
		}
	case *ast.AutoLink:
		w.WriteString(StripTracking(string(n.URL(source))))
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
		walkPlain(w, n, source)
		w.WriteByte('\n')
	case *ast.List:
		w.WriteByte('\n')
		walkPlain(w, n, source)
		w.WriteByte('\n')
	case *ast.ListItem:
		w.WriteString("・")
		walkPlain(w, n, source)
	case *ast.Blockquote:
		var quoted strings.Builder
		walkPlain(&quoted, n, source)
		for _, line := range strings.Split(strings.TrimRight(quoted.String(), "\n"), "\n") {
			w.WriteString("> ")
			w.WriteString(line)
			w.WriteByte('\n')
		}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			w.Write(seg.Value(source))
		}
	case *extast.Table:
		w.WriteString("(table omitted)\n")
	}
}

func childText(n ast.Node, source []byte) string {
	var w strings.Builder
	walkPlain(&w, n, source)
	return w.String()
}

// StripTracking removes utm_* query parameters from a URL. Unparseable
// input is returned unchanged.
func StripTracking(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.RawQuery == "" {
		return raw
	}

	q := u.Query()
	changed := false
	for key := range q {
		if strings.HasPrefix(key, "utm_") {
			q.Del(key)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Truncate cuts s to at most limit runes, marking the cut with OmittedSuffix.
// A non-positive limit disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + OmittedSuffix
}
