// Package htmltree builds a small navigable element tree from HTML markup.
//
// Parsing is tolerant: unknown or unbalanced end tags are ignored, void
// elements never receive children, and no input makes Parse fail. Nodes live
// in an arena owned by the Document; a Node is a cheap handle into it.
package htmltree

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// voidElements are never pushed onto the open-element stack.
var voidElements = map[string]struct{}{
	"area": {}, "base": {}, "br": {}, "col": {}, "embed": {}, "hr": {}, "img": {},
	"input": {}, "link": {}, "meta": {}, "param": {}, "source": {}, "track": {}, "wbr": {},
}

type nodeKind uint8

const (
	documentNode nodeKind = iota
	elementNode
	textNode
)

type node struct {
	kind     nodeKind
	tag      string
	attrs    map[string]string
	data     string // raw, still-escaped text for text nodes
	parent   int    // index into Document.nodes, -1 for the root
	children []int  // element and text children in document order
}

// Document owns every node of a parsed tree.
type Document struct {
	nodes []node
}

// Parse reads markup from r and builds a tree rooted at an implicit document node.
// Read errors simply end the token stream.
func Parse(r io.Reader) *Document {
	doc := &Document{nodes: []node{{kind: documentNode, parent: -1}}}
	stack := []int{0}

	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return doc

		case html.TextToken:
			raw := z.Raw()
			if len(raw) == 0 {
				continue
			}
			doc.appendChild(stack[len(stack)-1], node{kind: textNode, data: string(raw)})

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			n := node{kind: elementNode, tag: tag, attrs: readAttrs(z, hasAttr)}
			idx := doc.appendChild(stack[len(stack)-1], n)
			if tt == html.SelfClosingTagToken {
				continue
			}
			if _, void := voidElements[tag]; !void {
				stack = append(stack, idx)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			for i := len(stack) - 1; i > 0; i-- {
				if doc.nodes[stack[i]].tag == tag {
					stack = stack[:i]
					break
				}
			}
			// Comments and doctypes are dropped.
		}
	}
}

// ParseString parses an in-memory document.
func ParseString(markup string) *Document {
	return Parse(strings.NewReader(markup))
}

// ParseBytes parses an in-memory document.
func ParseBytes(markup []byte) *Document {
	return Parse(bytes.NewReader(markup))
}

func readAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	if !hasAttr {
		return nil
	}
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if _, dup := attrs[k]; !dup {
			attrs[k] = string(val)
		}
		if !more {
			return attrs
		}
	}
}

func (d *Document) appendChild(parent int, n node) int {
	n.parent = parent
	d.nodes = append(d.nodes, n)
	idx := len(d.nodes) - 1
	d.nodes[parent].children = append(d.nodes[parent].children, idx)
	return idx
}

// Root returns the implicit document node.
func (d *Document) Root() Node {
	return Node{doc: d, idx: 0}
}

// Find searches the whole document. See Node.Find.
func (d *Document) Find(q Query) (Node, bool) {
	return d.Root().Find(q)
}

// FindAll searches the whole document. See Node.FindAll.
func (d *Document) FindAll(q Query) []Node {
	return d.Root().FindAll(q)
}

// Node is a handle to an element or text node. The zero Node is invalid and
// behaves as an empty element.
type Node struct {
	doc *Document
	idx int
}

// Valid reports whether n refers to a node.
func (n Node) Valid() bool {
	return n.doc != nil
}

func (n Node) raw() *node {
	return &n.doc.nodes[n.idx]
}

// Tag returns the lowercase element name, or "" for text and document nodes.
func (n Node) Tag() string {
	if !n.Valid() {
		return ""
	}
	return n.raw().tag
}

// IsElement reports whether n is an element node.
func (n Node) IsElement() bool {
	return n.Valid() && n.raw().kind == elementNode
}

// IsText reports whether n is a text node.
func (n Node) IsText() bool {
	return n.Valid() && n.raw().kind == textNode
}

// Attr returns an attribute value and whether it was present.
func (n Node) Attr(name string) (string, bool) {
	if !n.Valid() {
		return "", false
	}
	v, ok := n.raw().attrs[name]
	return v, ok
}

// AttrOr returns the attribute value or def when absent.
func (n Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return def
}

// ID returns the id attribute.
func (n Node) ID() string {
	return n.AttrOr("id", "")
}

// Classes returns the whitespace-separated class list.
func (n Node) Classes() []string {
	return strings.Fields(n.AttrOr("class", ""))
}

// HasClass reports whether class is one of the node's classes.
func (n Node) HasClass(class string) bool {
	for _, c := range n.Classes() {
		if c == class {
			return true
		}
	}
	return false
}

// Parent returns the enclosing element, or an invalid Node at the root.
func (n Node) Parent() Node {
	if !n.Valid() || n.raw().parent < 0 {
		return Node{}
	}
	return Node{doc: n.doc, idx: n.raw().parent}
}

// Content returns element and text children in document order.
func (n Node) Content() []Node {
	if !n.Valid() {
		return nil
	}
	out := make([]Node, 0, len(n.raw().children))
	for _, c := range n.raw().children {
		out = append(out, Node{doc: n.doc, idx: c})
	}
	return out
}

// Children returns element children in document order.
func (n Node) Children() []Node {
	if !n.Valid() {
		return nil
	}
	var out []Node
	for _, c := range n.raw().children {
		if n.doc.nodes[c].kind == elementNode {
			out = append(out, Node{doc: n.doc, idx: c})
		}
	}
	return out
}

// NextContent returns the siblings after n, text nodes included.
func (n Node) NextContent() []Node {
	parent := n.Parent()
	if !parent.Valid() {
		return nil
	}
	siblings := parent.raw().children
	for i, c := range siblings {
		if c == n.idx {
			out := make([]Node, 0, len(siblings)-i-1)
			for _, s := range siblings[i+1:] {
				out = append(out, Node{doc: n.doc, idx: s})
			}
			return out
		}
	}
	return nil
}

// NextSiblings returns the element siblings after n.
func (n Node) NextSiblings() []Node {
	var out []Node
	for _, s := range n.NextContent() {
		if s.IsElement() {
			out = append(out, s)
		}
	}
	return out
}
