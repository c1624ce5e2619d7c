package parse

import (
	"strings"

	"github.com/Sriram-PR/inci-scraper/pkg/htmltree"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
)

// Parser extracts records from site pages. Relative links resolve against Base.
type Parser struct {
	Base string
}

// New returns a Parser for the site at base.
func New(base string) *Parser {
	return &Parser{Base: strings.TrimRight(base, "/")}
}

func (p *Parser) abs(href string) string {
	return AbsoluteURL(p.Base, href)
}

var (
	brandAnchorClasses   = []string{"brand__item", "brand-card", "brandlist__item"}
	productAnchorClasses = []string{"productlist__item", "product-card", "product__item"}
)

// anchorsWithClass collects <a> elements carrying any of classes, grouped by
// class in the given order.
func anchorsWithClass(root htmltree.Node, classes []string) []htmltree.Node {
	var out []htmltree.Node
	for _, c := range classes {
		out = append(out, root.FindAll(htmltree.Query{Tag: "a", Classes: []string{c}})...)
	}
	return out
}

func hrefPrefix(prefix string) htmltree.Query {
	return htmltree.Query{Tag: "a", Match: func(n htmltree.Node) bool {
		return strings.HasPrefix(n.AttrOr("href", ""), prefix)
	}}
}

// links turns anchors into name/URL pairs, dropping anchors without text or
// href and repeated URLs.
func (p *Parser) links(anchors []htmltree.Node) []models.Link {
	seen := make(map[string]struct{}, len(anchors))
	out := make([]models.Link, 0, len(anchors))
	for _, a := range anchors {
		href := a.AttrOr("href", "")
		name := a.Text()
		if href == "" || name == "" {
			continue
		}
		u := p.abs(href)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, models.Link{Name: name, URL: u})
	}
	return out
}

// BrandList extracts brand links from a brand listing page. When none of the
// card markups is present, the simple text list and then any brand link
// (excluding pagination) are tried.
func (p *Parser) BrandList(body []byte) []models.Link {
	root := htmltree.ParseBytes(body).Root()
	anchors := anchorsWithClass(root, brandAnchorClasses)
	if len(anchors) == 0 {
		anchors = root.FindAll(htmltree.Query{Tag: "a", Classes: []string{"simpletextlistitem"}})
	}
	if len(anchors) == 0 {
		q := hrefPrefix("/brands/")
		inner := q.Match
		q.Match = func(n htmltree.Node) bool {
			return inner(n) && !strings.Contains(n.AttrOr("href", ""), "?offset=")
		}
		anchors = root.FindAll(q)
	}
	return p.links(anchors)
}

// ProductList extracts product links from a brand's product listing page.
func (p *Parser) ProductList(body []byte) []models.Link {
	root := htmltree.ParseBytes(body).Root()
	anchors := anchorsWithClass(root, productAnchorClasses)
	if len(anchors) == 0 {
		anchors = root.FindAll(hrefPrefix("/products/"))
	}
	return p.links(anchors)
}
