package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/inci-scraper/pkg/htmltree"
)

func TestCanonicalize(t *testing.T) {
	tests := map[string]string{
		"Water / Aqua":          "wateraqua",
		"Crème  Brûlée-2":       "cremebrulee2",
		"ＡＢＣ":                   "abc",
		"PEG-40 Hydrogenated":   "peg40hydrogenated",
		"   ":                   "",
		"Sodium Hyaluronate!!!": "sodiumhyaluronate",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, Canonicalize(in))
		})
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"peg", "40", "hydrogenated", "castor", "oil"}, Tokenize("PEG-40 Hydrogenated  Castor Oil"))
	assert.Equal(t, []string{"creme"}, Tokenize("Crème"))
	assert.Empty(t, Tokenize(" -/- "))
}

func TestRank_Tiers(t *testing.T) {
	cands := []Candidate{
		{Text: "GLYCERYL STEARATE", Href: "/1"},
		{Text: "POLYGLYCERYL-3 GLYCERYL", Href: "/2"},
		{Text: "GLYCERIN", Href: "/3"},
		{Text: "Glycerin", Href: "/4"},
	}

	t.Run("ExactExpectedNameWins", func(t *testing.T) {
		best, ok := Rank(cands, "glycerin", "Glycerin")
		require.True(t, ok)
		assert.Equal(t, 2, best, "first tier-0 match in document order")
	})

	t.Run("SubstringPrefersShortestContainer", func(t *testing.T) {
		best, _ := Rank(cands, "glyceryl", "")
		assert.Equal(t, 0, best)
	})

	t.Run("TokenSubsetPrefersFewestExtras", func(t *testing.T) {
		tokenCands := []Candidate{
			{Text: "CETYL ALCOHOL AND STEARYL ALCOHOL", Href: "/a"},
			{Text: "STEARYL CETYL ALCOHOL", Href: "/b"},
		}
		best, _ := Rank(tokenCands, "alcohol cetyl", "")
		assert.Equal(t, 1, best)
	})

	t.Run("FallsBackToFirstAnchor", func(t *testing.T) {
		best, ok := Rank(cands, "zinc oxide", "")
		require.True(t, ok)
		assert.Equal(t, 0, best)
	})

	t.Run("ExpectedIgnoredWhenAmbiguous", func(t *testing.T) {
		best, _ := Rank([]Candidate{{Text: "AQUA WATER"}, {Text: "WATER/AQUA"}}, "aqua", "Water/Aqua")
		assert.Equal(t, 0, best, "tier 1 ties break by score, then order")
	})

	t.Run("RowTextCounts", func(t *testing.T) {
		rowCands := []Candidate{
			{Text: "Details", RowText: "SQUALANE Details"},
			{Text: "Details", RowText: "NIACINAMIDE Details"},
		}
		best, _ := Rank(rowCands, "Niacinamide", "Niacinamide")
		assert.Equal(t, 1, best)
	})

	t.Run("NoCandidates", func(t *testing.T) {
		_, ok := Rank(nil, "x", "x")
		assert.False(t, ok)
	})
}

func TestRank_Deterministic(t *testing.T) {
	cands := []Candidate{
		{Text: "SODIUM LAURYL SULFATE"},
		{Text: "SODIUM LAURETH SULFATE"},
		{Text: "SODIUM SULFATE"},
		{Text: "MAGNESIUM LAURYL SULFATE"},
	}
	first, _ := Rank(cands, "sodium sulfate", "")
	for i := 0; i < 20; i++ {
		got, _ := Rank(cands, "sodium sulfate", "")
		assert.Equal(t, first, got)
	}
	assert.Equal(t, 2, first)
}

func TestCandidates(t *testing.T) {
	root := htmltree.ParseString(`<table>
		<tr><td><a href="/details/1">AQUA</a></td><td>Solvent</td></tr>
		<tr><td><a href="#top">top</a></td></tr>
		<tr><td><a>no href</a></td></tr>
	</table><a href="/details/2">Loose</a>`).Root()

	cands := Candidates(root)
	require.Len(t, cands, 2)
	assert.Equal(t, Candidate{Text: "AQUA", RowText: "AQUA Solvent", Href: "/details/1"}, cands[0])
	assert.Equal(t, Candidate{Text: "Loose", Href: "/details/2"}, cands[1])
}
