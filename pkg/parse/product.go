package parse

import (
	"fmt"
	"strings"

	"github.com/Sriram-PR/inci-scraper/pkg/htmltree"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// ProductPage extracts a product detail page. A page without a product title
// yields utils.ErrParseMiss.
func (p *Parser) ProductPage(body []byte) (*models.ProductDetails, error) {
	root := htmltree.ParseBytes(body).Root()
	block, ok := root.Find(htmltree.Class("detailpage"))
	if !ok {
		block = root
	}

	title, ok := findEither(block, root, htmltree.ID("product-title"))
	if !ok || title.Text() == "" {
		return nil, fmt.Errorf("%w: #product-title", utils.ErrParseMiss)
	}

	details := &models.ProductDetails{
		Name:        title.Text(),
		Description: htmltree.TextOf(findEither(block, root, htmltree.ID("product-details"))),
		ImageURL:    p.heroImage(block),
	}
	tooltips := tooltipIndex(root)
	details.Ingredients = p.ingredientRefs(block, tooltips)
	details.FunctionTable = p.functionTable(root)
	details.Highlights = p.highlights(root, tooltips)
	details.Discontinued, details.ReplacementURL = p.discontinued(root)
	return details, nil
}

// findEither looks in the narrow scope first, then the whole document.
func findEither(scope, root htmltree.Node, q htmltree.Query) (htmltree.Node, bool) {
	if n, ok := scope.Find(q); ok {
		return n, true
	}
	return root.Find(q)
}

func (p *Parser) heroImage(block htmltree.Node) string {
	for _, img := range block.FindAll(htmltree.Tag("img")) {
		src := img.AttrOr("data-src", "")
		if src == "" {
			src = img.AttrOr("src", "")
		}
		if src != "" {
			return p.abs(src)
		}
	}
	return ""
}

// tooltipIndex maps tooltip template ids to their nodes.
func tooltipIndex(root htmltree.Node) map[string]htmltree.Node {
	index := make(map[string]htmltree.Node)
	for _, n := range root.FindAll(htmltree.Class("tooltip_templates")) {
		if id := n.ID(); id != "" {
			index[id] = n
		}
	}
	return index
}

// tooltipFor returns the template referenced by a data-tooltip-content attribute.
func tooltipFor(n htmltree.Node, tooltips map[string]htmltree.Node) (htmltree.Node, bool) {
	ref := strings.TrimPrefix(n.AttrOr("data-tooltip-content", ""), "#")
	if ref == "" {
		return htmltree.Node{}, false
	}
	t, ok := tooltips[ref]
	return t, ok
}

func (p *Parser) ingredientRefs(block htmltree.Node, tooltips map[string]htmltree.Node) []models.IngredientRef {
	list, ok := block.Find(htmltree.ID("ingredlist-short"))
	if !ok {
		list, ok = block.Find(htmltree.Class("ingredlist-short"))
	}
	if !ok {
		return nil
	}

	var refs []models.IngredientRef
	for _, a := range list.FindAll(htmltree.Query{Tag: "a", Classes: []string{"ingred-link"}}) {
		href := a.AttrOr("href", "")
		name := a.Text()
		if href == "" || name == "" {
			continue
		}
		ref := models.IngredientRef{Name: name, URL: p.abs(href)}
		if icon, ok := tooltipIcon(a); ok {
			if t, ok := tooltipFor(icon, tooltips); ok {
				if link, ok := t.Find(hrefPrefix("/ingredients/")); ok {
					ref.TooltipURL = p.abs(link.AttrOr("href", ""))
				}
			}
		}
		refs = append(refs, ref)
	}
	return refs
}

// tooltipIcon finds the info icon belonging to an ingredient anchor by
// searching enclosing elements up to the nearest li or div. An ancestor that
// wraps more than one ingredient link ends the search.
func tooltipIcon(anchor htmltree.Node) (htmltree.Node, bool) {
	q := htmltree.Class("info-circle-ingred-short")
	links := htmltree.Query{Tag: "a", Classes: []string{"ingred-link"}}
	for cur := anchor.Parent(); cur.Valid() && cur.IsElement(); cur = cur.Parent() {
		if len(cur.FindAll(links)) > 1 {
			break
		}
		if icon, ok := cur.Find(q); ok {
			return icon, true
		}
		if t := cur.Tag(); t == "li" || t == "div" {
			break
		}
	}
	return htmltree.Node{}, false
}

func (p *Parser) functionTable(root htmltree.Node) []models.FunctionRow {
	section, ok := root.Find(htmltree.ID("ingredlist-table-section"))
	if !ok {
		return nil
	}
	var rows []models.FunctionRow
	for _, tr := range section.FindAll(htmltree.Tag("tr")) {
		var cells []htmltree.Node
		for _, c := range tr.Children() {
			if c.Tag() == "td" {
				cells = append(cells, c)
			}
		}
		if len(cells) < 2 {
			continue
		}
		ingred, ok := cells[0].Find(hrefPrefix("/ingredients/"))
		if !ok {
			continue
		}
		row := models.FunctionRow{Ingredient: models.Link{Name: ingred.Text(), URL: p.abs(ingred.AttrOr("href", ""))}}
		for _, fa := range cells[1].FindAll(htmltree.Query{Tag: "a", Classes: []string{"ingred-function-link"}}) {
			name := fa.Text()
			if name == "" {
				continue
			}
			link := models.Link{Name: name}
			if href := fa.AttrOr("href", ""); href != "" {
				link.URL = p.abs(href)
			}
			row.Functions = append(row.Functions, link)
		}
		rows = append(rows, row)
	}
	return rows
}

func (p *Parser) highlights(root htmltree.Node, tooltips map[string]htmltree.Node) models.Highlights {
	var h models.Highlights
	section, ok := root.Find(htmltree.ID("ingredlist-highlights-section"))
	if !ok {
		return h
	}

	for _, span := range section.FindAll(htmltree.Query{Tag: "span", Classes: []string{"hashtag"}}) {
		tag := span.Text()
		if tag == "" {
			continue
		}
		ref := models.FreeTagRef{Tag: tag}
		if t, ok := tooltipFor(span, tooltips); ok {
			ref.Tooltip = t.Text()
		}
		h.FreeTags = append(h.FreeTags, ref)
	}

	for _, block := range section.FindAll(htmltree.Query{Tag: "div", Classes: []string{"ingredlist-by-function-block"}}) {
		heading := strings.ToLower(htmltree.TextOf(block.Find(htmltree.Tag("h3"))))
		var target *[]models.HighlightEntry
		switch {
		case strings.Contains(heading, "key ingredients"):
			target = &h.Key
		case strings.Contains(heading, "other ingredients"):
			target = &h.Other
		default:
			continue
		}
		for _, span := range block.FindAll(htmltree.Tag("span")) {
			ia, ok := span.Find(htmltree.Query{Tag: "a", Classes: []string{"ingred-link"}})
			if !ok {
				continue
			}
			entry := models.HighlightEntry{Ingredient: p.anchorLink(ia)}
			if fa, ok := span.Find(htmltree.Query{Tag: "a", Classes: []string{"func-link"}}); ok {
				entry.Function = p.anchorLink(fa)
			}
			*target = append(*target, entry)
		}
	}
	return h
}

func (p *Parser) anchorLink(a htmltree.Node) models.Link {
	l := models.Link{Name: a.Text()}
	if href := a.AttrOr("href", ""); href != "" {
		l.URL = p.abs(href)
	}
	return l
}

func (p *Parser) discontinued(root htmltree.Node) (bool, string) {
	alert, ok := root.Find(htmltree.Class("topalert"))
	if !ok || !strings.Contains(strings.ToLower(alert.Text()), "discontinued") {
		return false, ""
	}
	if a, ok := alert.Find(hrefPrefix("/products/")); ok {
		return true, p.abs(a.AttrOr("href", ""))
	}
	return true, ""
}
