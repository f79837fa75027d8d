package steps

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

var rawElements = map[string]bool{
	"pre": true, "textarea": true, "script": true, "style": true,
}

var inlineElements = map[string]bool{
	"a": true, "abbr": true, "b": true, "br": true, "button": true,
	"cite": true, "code": true, "em": true, "i": true, "img": true,
	"kbd": true, "label": true, "mark": true, "option": true, "q": true,
	"s": true, "small": true, "span": true, "strong": true, "sub": true,
	"sup": true, "time": true, "u": true, "var": true,
}

// Prettify re-indents an HTML document or fragment. Block elements get one
// line per tag, elements holding only text and inline markup stay on one
// line, and pre/textarea/script/style bodies are kept verbatim.
func Prettify(src []byte, indent string) ([]byte, error) {
	var buf bytes.Buffer
	p := &printer{buf: &buf, indent: indent}

	if isDocument(src) {
		doc, err := html.Parse(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		for c := doc.FirstChild; c != nil; c = c.NextSibling {
			p.node(c, 0)
		}
	} else {
		body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
		nodes, err := html.ParseFragment(bytes.NewReader(src), body)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			p.node(n, 0)
		}
	}

	return buf.Bytes(), p.err
}

func isDocument(src []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(src))
	return bytes.HasPrefix(head, []byte("<!doctype")) || bytes.HasPrefix(head, []byte("<html"))
}

type printer struct {
	buf    *bytes.Buffer
	indent string
	err    error
}

func (p *printer) line(depth int, s string) {
	p.buf.WriteString(strings.Repeat(p.indent, depth))
	p.buf.WriteString(s)
	p.buf.WriteByte('\n')
}

func (p *printer) node(n *html.Node, depth int) {
	switch n.Type {
	case html.DoctypeNode, html.CommentNode:
		var b bytes.Buffer
		if err := html.Render(&b, n); err != nil && p.err == nil {
			p.err = err
		}
		p.line(depth, b.String())

	case html.TextNode:
		if text := strings.TrimSpace(collapseSpace(n.Data)); text != "" {
			p.line(depth, html.EscapeString(text))
		}

	case html.ElementNode:
		switch {
		case rawElements[n.Data]:
			var b bytes.Buffer
			if err := html.Render(&b, n); err != nil && p.err == nil {
				p.err = err
			}
			p.line(depth, b.String())
		case voidElements[n.Data]:
			p.line(depth, openTag(n))
		case inlineOnly(n):
			var b strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				writeInline(&b, c)
			}
			p.line(depth, openTag(n)+strings.TrimSpace(b.String())+"</"+n.Data+">")
		default:
			p.line(depth, openTag(n))
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				p.node(c, depth+1)
			}
			p.line(depth, "</"+n.Data+">")
		}
	}
}

// inlineOnly reports whether every descendant is text or inline markup
func inlineOnly(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
		case html.ElementNode:
			if !inlineElements[c.Data] || !inlineOnly(c) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func writeInline(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(html.EscapeString(collapseSpace(n.Data)))
	case html.ElementNode:
		b.WriteString(openTag(n))
		if voidElements[n.Data] {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			writeInline(b, c)
		}
		b.WriteString("</" + n.Data + ">")
	}
}

func openTag(n *html.Node) string {
	var b strings.Builder
	b.WriteString("<" + n.Data)
	for _, a := range n.Attr {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + key
		}
		b.WriteString(" " + key + `="` + html.EscapeString(a.Val) + `"`)
	}
	b.WriteString(">")
	return b.String()
}

// collapseSpace folds every whitespace run into one space
func collapseSpace(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\f':
			if !space {
				b.WriteByte(' ')
			}
			space = true
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return b.String()
}
