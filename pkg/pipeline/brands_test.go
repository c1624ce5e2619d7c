package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/inci-scraper/pkg/storage"
)

const emptyListing = `<html><body><p>Nothing here.</p></body></html>`

func TestBrandStage_AcmeScenario(t *testing.T) {
	s := newSite(t)
	s.set("/brands", `<a class="brand__item" href="/brands/acme">Acme</a>`)
	s.set("/brands?offset=1", emptyListing)
	h := newTestHandle(t, newTestStore(t))
	ctx := context.Background()

	res, err := NewBrandStage(h, s.client(), s.options(), testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Units)
	assert.Equal(t, 1, res.Records)

	b, err := h.BrandByURL(ctx, s.srv.URL+"/brands/acme")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Acme", b.Name)
	assert.False(t, b.ProductsScraped)

	next, _ := metadata(t, h, storage.KeyBrandsNextOffset)
	total, _ := metadata(t, h, storage.KeyBrandsTotalOffsets)
	complete, _ := metadata(t, h, storage.KeyBrandsComplete)
	assert.Equal(t, "3", next)
	assert.Equal(t, "1", total)
	assert.Equal(t, "1", complete)

	// Complete: a second run fetches nothing.
	res, err = NewBrandStage(h, s.client(), s.options(), testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Units)
	assert.Equal(t, 1, s.hitCount("/brands"))
}

func TestBrandStage_FetchFailureKeepsOffsetAndResumes(t *testing.T) {
	s := newSite(t)
	s.set("/brands", `<a class="brand__item" href="/brands/acme">Acme</a>`)
	s.fail("/brands?offset=1")
	h := newTestHandle(t, newTestStore(t))
	ctx := context.Background()

	res, err := NewBrandStage(h, s.client(), s.options(), testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	next, _ := metadata(t, h, storage.KeyBrandsNextOffset)
	assert.Equal(t, "2", next)
	_, complete := metadata(t, h, storage.KeyBrandsComplete)
	assert.False(t, complete)

	s.set("/brands?offset=1", `<a class="brand-card" href="/brands/beta">Beta</a>`)
	s.set("/brands?offset=2", emptyListing)
	_, err = NewBrandStage(h, s.client(), s.options(), testLogger()).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, s.hitCount("/brands"), "resume does not refetch page 1")
	next, _ = metadata(t, h, storage.KeyBrandsNextOffset)
	total, _ := metadata(t, h, storage.KeyBrandsTotalOffsets)
	assert.Equal(t, "4", next)
	assert.Equal(t, "2", total)

	summary, err := h.WorkloadSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.BrandsTotal)
}

func TestBrandStage_PageLimitAndRescan(t *testing.T) {
	s := newSite(t)
	s.set("/brands", `<a class="brand__item" href="/brands/acme">Acme</a>`)
	s.set("/brands?offset=1", `<a class="brand__item" href="/brands/beta">Beta</a>`)
	s.set("/brands?offset=2", emptyListing)
	h := newTestHandle(t, newTestStore(t))
	ctx := context.Background()

	opts := s.options()
	opts.MaxPages = 1
	res, err := NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Units)
	next, _ := metadata(t, h, storage.KeyBrandsNextOffset)
	assert.Equal(t, "2", next)

	opts = s.options()
	_, err = NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	complete, _ := metadata(t, h, storage.KeyBrandsComplete)
	assert.Equal(t, "1", complete)

	// Rescan starts over even though the listing is complete.
	opts.Rescan = true
	res, err = NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Units)
	assert.Equal(t, 2, s.hitCount("/brands"))
	summary, err := h.WorkloadSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.BrandsTotal, "rescan does not duplicate brands")
}

func TestBrandStage_CancelledContext(t *testing.T) {
	s := newSite(t)
	h := newTestHandle(t, newTestStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBrandStage(h, s.client(), s.options(), testLogger()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBrandStage_BrandLimit(t *testing.T) {
	s := newSite(t)
	s.set("/brands", `<a class="brand__item" href="/brands/a">A</a>
		<a class="brand__item" href="/brands/b">B</a>
		<a class="brand__item" href="/brands/c">C</a>`)
	s.set("/brands?offset=1", `<a class="brand__item" href="/brands/d">D</a>`)
	s.set("/brands?offset=2", emptyListing)
	h := newTestHandle(t, newTestStore(t))
	ctx := context.Background()

	opts := s.options()
	opts.MaxBrands = 2
	res, err := NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	n, err := h.CountBrands(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	next, _ := metadata(t, h, storage.KeyBrandsNextOffset)
	assert.Equal(t, "1", next, "a partly stored page is revisited")

	// Limit already met: nothing is fetched.
	res, err = NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Units)
	assert.Equal(t, 1, s.hitCount("/brands"))

	opts.MaxBrands = 4
	_, err = NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	n, err = h.CountBrands(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, s.hitCount("/brands?offset=2"))
	_, complete := metadata(t, h, storage.KeyBrandsComplete)
	assert.False(t, complete)
}

// fullListing serves pages listing pages of one brand each, then empty
// pages up to four times as far.
func fullListing(s *site, pages int) {
	s.set("/brands", `<a class="brand__item" href="/brands/p1">P1</a>`)
	for p := 2; p <= 4*pages; p++ {
		body := emptyListing
		if p <= pages {
			body = fmt.Sprintf(`<a class="brand__item" href="/brands/p%d">P%d</a>`, p, p)
		}
		s.set(fmt.Sprintf("/brands?offset=%d", p-1), body)
	}
}

func TestBrandStage_DiscoversPageCount(t *testing.T) {
	s := newSite(t)
	fullListing(s, 5)
	h := newTestHandle(t, newTestStore(t))
	ctx := context.Background()

	opts := s.options()
	opts.DiscoverPages = true
	opts.MaxPages = 1
	res, err := NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Units, "discovery probes are not crawl units")

	total, _ := metadata(t, h, storage.KeyBrandsTotalOffsets)
	assert.Equal(t, "5", total)
	_, pending := metadata(t, h, storage.KeyBrandsDiscovery)
	assert.False(t, pending)
	assert.Equal(t, 1, s.hitCount("/brands?offset=7"), "page 8 bounds the search")
	assert.Zero(t, s.hitCount("/brands?offset=15"))

	summary, err := h.WorkloadSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.BrandPagesRemaining)

	// Known total: no further probing.
	_, err = NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.hitCount("/brands?offset=7"))
}

func TestBrandStage_DiscoveryResumesAfterFetchFailure(t *testing.T) {
	s := newSite(t)
	fullListing(s, 5)
	s.fail("/brands?offset=7")
	h := newTestHandle(t, newTestStore(t))
	ctx := context.Background()

	opts := s.options()
	opts.DiscoverPages = true
	opts.MaxPages = 1
	res, err := NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed, "crawl goes on without a total")
	_, known := metadata(t, h, storage.KeyBrandsTotalOffsets)
	assert.False(t, known)
	_, pending := metadata(t, h, storage.KeyBrandsDiscovery)
	assert.True(t, pending)
	summary, err := h.WorkloadSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, summary.BrandPagesRemaining)

	s.set("/brands?offset=7", emptyListing)
	_, err = NewBrandStage(h, s.client(), opts, testLogger()).Run(ctx)
	require.NoError(t, err)

	total, _ := metadata(t, h, storage.KeyBrandsTotalOffsets)
	assert.Equal(t, "5", total)
	assert.Equal(t, 1, s.hitCount("/brands?offset=3"), "page 4 is not probed again")
	_, pending = metadata(t, h, storage.KeyBrandsDiscovery)
	assert.False(t, pending)
}
