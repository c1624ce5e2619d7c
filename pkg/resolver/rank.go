package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/Sriram-PR/inci-scraper/pkg/htmltree"
)

// fold decomposes s, drops combining marks and lowercases it.
func fold(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z')
}

// Canonicalize reduces s to lowercase ASCII letters and digits.
func Canonicalize(s string) string {
	var b strings.Builder
	for _, r := range fold(s) {
		if isAlnum(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Tokenize splits s into lowercase alphanumeric tokens.
func Tokenize(s string) []string {
	return strings.FieldsFunc(fold(s), func(r rune) bool { return !isAlnum(r) })
}

// Candidate is a result anchor together with the text of its table row.
type Candidate struct {
	Text    string
	RowText string
	Href    string
}

// Candidates collects every linked anchor on a results page in document order.
func Candidates(root htmltree.Node) []Candidate {
	var out []Candidate
	for _, a := range root.FindAll(htmltree.Tag("a")) {
		href := a.AttrOr("href", "")
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			continue
		}
		c := Candidate{Text: a.Text(), Href: href}
		for p := a.Parent(); p.Valid(); p = p.Parent() {
			if p.Tag() == "tr" {
				c.RowText = p.Text()
				break
			}
		}
		out = append(out, c)
	}
	return out
}

// rank is a candidate's position in the ordering; lower wins.
type rank struct {
	tier  int
	score int
}

func (r rank) less(o rank) bool {
	if r.tier != o.tier {
		return r.tier < o.tier
	}
	return r.score < o.score
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// subsetExtra reports whether want is a subset of have and how many extra
// tokens have carries.
func subsetExtra(want, have map[string]struct{}) (int, bool) {
	if len(want) == 0 {
		return 0, false
	}
	for t := range want {
		if _, ok := have[t]; !ok {
			return 0, false
		}
	}
	return len(have) - len(want), true
}

// Rank picks the best candidate for query. expected is the exact name to
// prefer and may be empty. Ties keep document order. The second result is
// false only when there are no candidates.
func Rank(cands []Candidate, query, expected string) (int, bool) {
	if len(cands) == 0 {
		return -1, false
	}
	q := Canonicalize(query)
	qTokens := tokenSet(Tokenize(query))
	exp := ""
	if expected != "" && !strings.Contains(expected, "/") {
		exp = Canonicalize(expected)
	}

	best, bestRank := 0, rank{tier: 3}
	for i, c := range cands {
		r := rankOne(c, q, qTokens, exp)
		if r.less(bestRank) {
			best, bestRank = i, r
		}
	}
	return best, true
}

func rankOne(c Candidate, q string, qTokens map[string]struct{}, exp string) rank {
	texts := []string{c.Text}
	if c.RowText != "" {
		texts = append(texts, c.RowText)
	}

	if exp != "" {
		for _, t := range texts {
			if Canonicalize(t) == exp {
				return rank{tier: 0}
			}
		}
	}

	r := rank{tier: 3}
	if q != "" {
		for _, t := range texts {
			ct := Canonicalize(t)
			if strings.Contains(ct, q) {
				if cand := (rank{tier: 1, score: len(ct) - len(q)}); cand.less(r) {
					r = cand
				}
			}
		}
	}
	if r.tier == 1 {
		return r
	}
	for _, t := range texts {
		if extra, ok := subsetExtra(qTokens, tokenSet(Tokenize(t))); ok {
			if cand := (rank{tier: 2, score: extra}); cand.less(r) {
				r = cand
			}
		}
	}
	return r
}
