package htmltree

// Query selects nodes. Every non-zero field must match; the zero Query matches
// any element.
type Query struct {
	Tag     string
	Classes []string // all must be present
	ID      string
	Attrs   map[string]string // exact values
	Match   func(Node) bool
}

// Tag selects elements by name.
func Tag(tag string) Query {
	return Query{Tag: tag}
}

// Class selects elements carrying every given class.
func Class(classes ...string) Query {
	return Query{Classes: classes}
}

// ID selects elements by id.
func ID(id string) Query {
	return Query{ID: id}
}

func (q Query) matches(n Node) bool {
	if !n.IsElement() {
		return false
	}
	if q.Tag != "" && n.Tag() != q.Tag {
		return false
	}
	if q.ID != "" && n.ID() != q.ID {
		return false
	}
	if len(q.Classes) > 0 {
		have := make(map[string]struct{})
		for _, c := range n.Classes() {
			have[c] = struct{}{}
		}
		for _, want := range q.Classes {
			if _, ok := have[want]; !ok {
				return false
			}
		}
	}
	for k, want := range q.Attrs {
		if got, ok := n.Attr(k); !ok || got != want {
			return false
		}
	}
	if q.Match != nil && !q.Match(n) {
		return false
	}
	return true
}

// Find returns the first node matching q in depth-first pre-order, starting
// with n itself.
func (n Node) Find(q Query) (Node, bool) {
	var found Node
	ok := false
	n.walk(func(c Node) bool {
		if q.matches(c) {
			found, ok = c, true
			return false
		}
		return true
	})
	return found, ok
}

// FindAll returns every node matching q in document order, n included.
func (n Node) FindAll(q Query) []Node {
	var out []Node
	n.walk(func(c Node) bool {
		if q.matches(c) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// walk visits n and its descendants in pre-order until visit returns false.
// An explicit stack keeps deeply nested junk markup from growing the goroutine stack.
func (n Node) walk(visit func(Node) bool) {
	if !n.Valid() {
		return
	}
	stack := []int{n.idx}
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(Node{doc: n.doc, idx: idx}) {
			return
		}
		children := n.doc.nodes[idx].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}
