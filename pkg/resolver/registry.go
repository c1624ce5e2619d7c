package resolver

import (
	"regexp"
	"strings"

	"github.com/Sriram-PR/inci-scraper/pkg/htmltree"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// provisionList matches a provisions value made only of annex references.
var provisionList = regexp.MustCompile(`^[0-9A-Za-z/ .]+([,;][0-9A-Za-z/ .]+)+$`)

var numberSeparators = regexp.MustCompile(`[,;\n]|\s/\s`)

type labelRow struct {
	label string
	value htmltree.Node
}

// labelRows returns every table row that has a label cell followed by a value cell.
func labelRows(root htmltree.Node) []labelRow {
	var rows []labelRow
	for _, tr := range root.FindAll(htmltree.Tag("tr")) {
		var cells []htmltree.Node
		for _, c := range tr.Children() {
			if t := c.Tag(); t == "td" || t == "th" {
				cells = append(cells, c)
			}
		}
		if len(cells) < 2 {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(strings.TrimRight(cells[0].Text(), ": ")))
		if label == "" {
			continue
		}
		rows = append(rows, labelRow{label: label, value: cells[1]})
	}
	return rows
}

// IsDetailView reports whether the page shows a single registry entry.
func IsDetailView(root htmltree.Node) bool {
	for _, r := range labelRows(root) {
		if r.label == "inci name" {
			return true
		}
	}
	return false
}

// cellParts returns the list items or links of a cell, or else its separate
// text runs.
func cellParts(cell htmltree.Node) []string {
	var parts []string
	for _, tag := range []string{"li", "a"} {
		for _, n := range cell.FindAll(htmltree.Tag(tag)) {
			if t := n.Text(); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	for _, n := range cell.Content() {
		if t := n.Text(); t != "" {
			parts = append(parts, t)
		}
	}
	return parts
}

func splitNumbers(parts []string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, numberSeparators.Split(p, -1)...)
	}
	return out
}

// ParseRecord reads the label/value table of a registry detail view.
func ParseRecord(root htmltree.Node) models.RegistryRecord {
	var rec models.RegistryRecord
	for _, r := range labelRows(root) {
		parts := cellParts(r.value)
		switch {
		case strings.HasPrefix(r.label, "cas"):
			rec.CASNumbers = append(rec.CASNumbers, splitNumbers(parts)...)
		case r.label == "ec" || strings.HasPrefix(r.label, "ec ") || strings.HasPrefix(r.label, "ec#"):
			rec.ECNumbers = append(rec.ECNumbers, splitNumbers(parts)...)
		case strings.Contains(r.label, "identified ingredient"):
			rec.IdentifiedIngredients = append(rec.IdentifiedIngredients, parts...)
		case strings.Contains(r.label, "regulation") || strings.Contains(r.label, "provision"):
			rec.RegulationProvisions = append(rec.RegulationProvisions, parts...)
		case strings.Contains(r.label, "function"):
			rec.Functions = append(rec.Functions, splitNumbers(parts)...)
		}
	}

	rec.CASNumbers = utils.DedupeFold(rec.CASNumbers)
	rec.ECNumbers = utils.DedupeFold(rec.ECNumbers)
	rec.IdentifiedIngredients = utils.DedupeFold(rec.IdentifiedIngredients)
	rec.RegulationProvisions = splitProvisions(utils.DedupeFold(rec.RegulationProvisions))
	rec.Functions = utils.DedupeFold(rec.Functions)
	return rec
}

// splitProvisions breaks a lone delimited provisions value into its items.
func splitProvisions(values []string) []string {
	if len(values) != 1 || !provisionList.MatchString(values[0]) {
		return values
	}
	return utils.DedupeFold(strings.FieldsFunc(values[0], func(r rune) bool { return r == ',' || r == ';' }))
}
