package parse

import (
	"strings"

	"github.com/Sriram-PR/inci-scraper/pkg/htmltree"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// IngredientPage extracts an ingredient page. Missing sections leave their
// fields empty; the caller falls back to the display name when Name is "".
func (p *Parser) IngredientPage(body []byte) *models.IngredientDetails {
	root := htmltree.ParseBytes(body).Root()

	nameNode, ok := root.Find(htmltree.Query{Tag: "h1", Classes: []string{"klavikab"}})
	if !ok {
		nameNode, ok = root.Find(htmltree.Tag("h1"))
	}
	d := &models.IngredientDetails{
		Name:      htmltree.TextOf(nameNode, ok),
		RatingTag: htmltree.TextOf(root.Find(htmltree.Class("ourtake"))),
	}

	labels := labelMap(root)
	if v, ok := labels["also-called-like-this"]; ok {
		d.AlsoCalled = splitList(v.Text())
	}
	if v, ok := labels["what-it-does"]; ok {
		d.WhatItDoes = p.whatItDoes(v)
	}
	d.Irritancy = htmltree.TextOf(lookup(labels, "irritancy"))
	d.Comedogenicity = htmltree.TextOf(lookup(labels, "comedogenicity"))
	d.DetailsText, d.ProofReferences = p.detailsSection(root)
	d.QuickFacts = quickFacts(root)
	return d
}

func lookup(m map[string]htmltree.Node, key string) (htmltree.Node, bool) {
	n, ok := m[key]
	return n, ok
}

// labelMap pairs every .label element with its .value element. Keys are the
// lowercased label text without colons, spaces replaced by dashes.
func labelMap(root htmltree.Node) map[string]htmltree.Node {
	out := make(map[string]htmltree.Node)
	for _, label := range root.FindAll(htmltree.Class("label")) {
		key := strings.TrimSpace(strings.Trim(strings.ToLower(label.Text()), ":"))
		key = strings.ReplaceAll(key, " ", "-")
		if key == "" {
			continue
		}
		if v, ok := valueFor(label); ok {
			out[key] = v
		}
	}
	return out
}

func valueFor(label htmltree.Node) (htmltree.Node, bool) {
	for _, c := range label.Parent().Children() {
		if c.HasClass("value") {
			return c, true
		}
	}
	for _, s := range label.NextSiblings() {
		if s.HasClass("value") {
			return s, true
		}
	}
	return htmltree.Node{}, false
}

func (p *Parser) whatItDoes(v htmltree.Node) []models.Link {
	anchors := v.FindAll(htmltree.Tag("a"))
	if len(anchors) == 0 {
		var out []models.Link
		for _, name := range splitList(v.Text()) {
			out = append(out, models.Link{Name: name})
		}
		return out
	}
	var out []models.Link
	for _, a := range anchors {
		l := p.anchorLink(a)
		if l.Name != "" || l.URL != "" {
			out = append(out, l)
		}
	}
	return out
}

// splitList splits a comma separated value, dropping blanks and repeats.
func splitList(s string) []string {
	return utils.DedupeFold(strings.Split(s, ","))
}

// detailsSection returns the prose paragraphs joined by blank lines and the
// external links cited in them.
func (p *Parser) detailsSection(root htmltree.Node) (string, []string) {
	section, ok := root.Find(htmltree.ID("showmore-section-details"))
	if !ok {
		section, ok = root.Find(htmltree.ID("details"))
	}
	if !ok {
		return "", nil
	}
	content, ok := section.Find(htmltree.Class("content"))
	if !ok {
		content = section
	}

	var paragraphs []string
	for _, para := range content.FindAll(htmltree.Tag("p")) {
		if t := para.Text(); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	text := strings.Join(paragraphs, "\n\n")
	if len(paragraphs) == 0 {
		text = content.Text()
	}

	var refs []string
	for _, a := range content.FindAll(hrefPrefix("http")) {
		refs = utils.AppendUnique(refs, p.abs(a.AttrOr("href", "")))
	}
	return text, refs
}

// quickFacts reads the bold-labelled registry summary block as "Label: value" lines.
func quickFacts(root htmltree.Node) []string {
	section, ok := root.Find(htmltree.ID("cosing-data"))
	if !ok {
		return nil
	}
	var facts []string
	for _, b := range section.FindAll(htmltree.Tag("b")) {
		label := strings.TrimSpace(strings.Trim(b.Text(), ": "))
		if label == "" {
			continue
		}
		var parts []string
		for _, item := range b.NextContent() {
			if item.Tag() == "b" {
				break
			}
			if t := item.Text(); t != "" {
				parts = append(parts, t)
			}
		}
		value := utils.CollapseWhitespace(strings.ReplaceAll(strings.Join(parts, " "), "|", " "))
		if value != "" {
			facts = append(facts, label+": "+value)
		}
	}
	return facts
}
