package htmltree

import (
	"html"
	"strings"
)

// Text returns the entity-unescaped text of every descendant text node in
// document order, joined by spaces, with whitespace runs collapsed and trimmed.
func (n Node) Text() string {
	var parts []string
	n.walk(func(c Node) bool {
		if c.IsText() {
			if t := html.UnescapeString(c.raw().data); t != "" {
				parts = append(parts, t)
			}
		}
		return true
	})
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

// TextOf is Text for an optional node; an invalid node yields "".
func TextOf(n Node, ok bool) string {
	if !ok {
		return ""
	}
	return n.Text()
}
