package fetch

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements never contribute readable text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
}

// extractText parses an HTML document and returns its title and visible
// text with normalized whitespace.
func extractText(raw string) (title, text string) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", ""
	}
	var w walker
	w.visit(doc)
	return w.title, normalize(w.text.String())
}

// walker accumulates document text during a single DOM traversal. The
// head subtree is mined for the title and otherwise excluded.
type walker struct {
	title string
	text  strings.Builder
}

func (w *walker) visit(n *html.Node) {
	switch n.Type {
	case html.ElementNode:
		if n.DataAtom == atom.Head {
			if w.title == "" {
				w.title = strings.TrimSpace(titleIn(n))
			}
			return
		}
		if skipped[n.DataAtom] {
			return
		}
		if blockLevel(n.DataAtom) && w.text.Len() > 0 {
			w.text.WriteString("\n\n")
		}
	case html.TextNode:
		if t := strings.TrimSpace(n.Data); t != "" {
			w.text.WriteString(t)
			w.text.WriteByte(' ')
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.visit(c)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.text.WriteByte('\n')
	}
}

// titleIn returns the text of the first <title> element under n.
func titleIn(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		return b.String()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := titleIn(c); t != "" {
			return t
		}
	}
	return ""
}

func blockLevel(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Dd, atom.Dt, atom.Figcaption, atom.Figure,
		atom.Details, atom.Summary, atom.Hr:
		return true
	}
	return false
}

// normalize collapses runs of whitespace within lines and runs of blank
// lines between them.
func normalize(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
