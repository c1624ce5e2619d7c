package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/parse"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
)

// BrandStage pages through the brand index, persisting the next offset after
// every page.
type BrandStage struct {
	store  storage.BrandStore
	client Fetcher
	parser *parse.Parser
	opts   Options
	log    *logrus.Entry
}

// NewBrandStage returns a BrandStage writing through store.
func NewBrandStage(store storage.BrandStore, client Fetcher, opts Options, logger *logrus.Entry) *BrandStage {
	return &BrandStage{
		store:  store,
		client: client,
		parser: parse.New(opts.BaseURL),
		opts:   opts,
		log:    logger.WithField("stage", string(models.StageBrands)),
	}
}

// Run scrapes brand pages until an empty page, a fetch failure or the page
// cap. Only storage errors are returned.
func (s *BrandStage) Run(ctx context.Context) (res StageResult, err error) {
	start := time.Now()
	res.Stage = models.StageBrands
	defer func() { res.Duration = time.Since(start) }()

	offset := 1
	if !s.opts.Rescan {
		complete, err := s.store.GetIntMetadata(ctx, storage.KeyBrandsComplete, 0)
		if err != nil {
			return res, err
		}
		if complete == 1 {
			s.log.Info("Brand list already complete, skipping stage")
			return res, nil
		}
		if offset, err = s.store.GetIntMetadata(ctx, storage.KeyBrandsNextOffset, 1); err != nil {
			return res, err
		}
		if offset < 1 {
			offset = 1
		}
	}
	if offset > 1 {
		s.log.Infof("Resuming brand listing from offset %d", offset)
	}

	if reached, err := s.brandLimitReached(ctx); err != nil || reached {
		if reached {
			s.log.Infof("Brand limit (%d) already satisfied, skipping stage", s.opts.MaxBrands)
		}
		return res, err
	}
	if s.opts.DiscoverPages {
		total, err := s.store.GetIntMetadata(ctx, storage.KeyBrandsTotalOffsets, 0)
		if err != nil {
			return res, err
		}
		if total == 0 {
			if err := s.discoverTotal(ctx); err != nil {
				return res, err
			}
		}
	}

	listURL := s.parser.Base + "/brands"
	for ; ; offset++ {
		if s.opts.MaxPages > 0 && res.Units >= s.opts.MaxPages {
			s.log.Infof("Reached page limit (%d), stopping", s.opts.MaxPages)
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		pageURL := parse.PageURL(listURL, offset)
		pageLog := s.log.WithFields(logrus.Fields{"offset": offset, "url": pageURL})
		res.Units++

		resp, err := s.client.Get(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			pageLog.Warnf("Brand page unavailable, stopping until next run: %v", err)
			return res, nil
		}

		links := s.parser.BrandList(resp.Body)
		if len(links) == 0 {
			if err := s.finish(ctx, offset); err != nil {
				return res, err
			}
			res.Processed++
			pageLog.Infof("Brand listing exhausted after %d page(s)", offset-1)
			return res, nil
		}

		// A page cut short by the brand limit is resumed, not skipped.
		next := offset + 1
		if s.opts.MaxBrands > 0 {
			kept, err := s.withinLimit(ctx, links)
			if err != nil {
				return res, err
			}
			if len(kept) < len(links) {
				next = offset
			}
			links = kept
		}

		ids, err := s.store.InsertBrands(ctx, links)
		if err != nil {
			return res, err
		}
		if err := s.store.SetIntMetadata(ctx, storage.KeyBrandsNextOffset, next); err != nil {
			return res, err
		}
		res.Processed++
		res.Records += len(ids)
		pageLog.Infof("Stored %d brand(s)", len(ids))

		if reached, err := s.brandLimitReached(ctx); err != nil || reached {
			if reached {
				pageLog.Infof("Reached brand limit (%d), stopping", s.opts.MaxBrands)
			}
			return res, err
		}
	}
}

// brandLimitReached reports whether MaxBrands brands are already stored.
func (s *BrandStage) brandLimitReached(ctx context.Context) (bool, error) {
	if s.opts.MaxBrands <= 0 {
		return false, nil
	}
	have, err := s.store.CountBrands(ctx)
	if err != nil {
		return false, err
	}
	return have >= s.opts.MaxBrands, nil
}

// withinLimit returns the leading links that fit under MaxBrands. Brands
// already stored do not count against the room left.
func (s *BrandStage) withinLimit(ctx context.Context, links []models.Link) ([]models.Link, error) {
	have, err := s.store.CountBrands(ctx)
	if err != nil {
		return nil, err
	}
	room := s.opts.MaxBrands - have
	for i, l := range links {
		known, err := s.store.BrandByURL(ctx, l.URL)
		if err != nil {
			return nil, err
		}
		if known != nil {
			continue
		}
		if room <= 0 {
			return links[:i], nil
		}
		room--
	}
	return links, nil
}

// maxDiscoveryPage bounds the doubling probe.
const maxDiscoveryPage = 1 << 16

// discoveryState is the persisted progress of a page-count search. Lower is
// the last page known to list brands, Upper the first known to be empty.
type discoveryState struct {
	Narrowing bool `json:"narrowing"`
	Lower     int  `json:"lower"`
	Upper     int  `json:"upper"`
	Next      int  `json:"next"`
	Probes    int  `json:"probes"`
}

func (s *BrandStage) loadDiscovery(ctx context.Context) discoveryState {
	fresh := discoveryState{Next: 1}
	raw, ok, err := s.store.GetMetadata(ctx, storage.KeyBrandsDiscovery)
	if err != nil || !ok {
		return fresh
	}
	var st discoveryState
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.Next < 1 || st.Lower < 0 {
		s.log.Warnf("Discarding unreadable page discovery state %q", raw)
		return fresh
	}
	s.log.Infof("Resuming page discovery at page %d (lower=%d, upper=%d)", st.Next, st.Lower, st.Upper)
	return st
}

func (s *BrandStage) saveDiscovery(ctx context.Context, st discoveryState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.store.SetMetadata(ctx, storage.KeyBrandsDiscovery, string(raw))
}

// discoverTotal finds the number of brand listing pages by doubling the page
// number until an empty page, then bisecting between the last full and first
// empty page. Progress is persisted after every probe so an interrupted
// search resumes. A fetch failure abandons the search for this run and
// leaves the total unknown; only storage errors and cancellation are returned.
func (s *BrandStage) discoverTotal(ctx context.Context) error {
	st := s.loadDiscovery(ctx)
	listURL := s.parser.Base + "/brands"

	for !st.Narrowing || st.Upper-st.Lower > 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := st.Next
		if !st.Narrowing && page > maxDiscoveryPage {
			s.log.Warnf("No empty brand page found up to %d, page count left unknown", maxDiscoveryPage)
			return s.store.DeleteMetadata(ctx, storage.KeyBrandsDiscovery)
		}

		resp, err := s.client.Get(ctx, parse.PageURL(listURL, page))
		st.Probes++
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.WithField("page", page).Warnf("Page discovery interrupted by fetch failure: %v", err)
			return s.saveDiscovery(ctx, st)
		}
		full := len(s.parser.BrandList(resp.Body)) > 0

		switch {
		case !st.Narrowing && full:
			st.Lower = page
			st.Next = page * 2
		case !st.Narrowing:
			st.Upper = page
			st.Narrowing = true
		case full:
			st.Lower = page
		default:
			st.Upper = page
		}
		if st.Narrowing {
			st.Next = (st.Lower + st.Upper) / 2
		}
		if err := s.saveDiscovery(ctx, st); err != nil {
			return err
		}
	}

	s.log.Infof("Brand listing has %d page(s) (%d probe(s))", st.Lower, st.Probes)
	if err := s.store.SetIntMetadata(ctx, storage.KeyBrandsTotalOffsets, st.Lower); err != nil {
		return err
	}
	return s.store.DeleteMetadata(ctx, storage.KeyBrandsDiscovery)
}

// finish records an empty page at offset as the end of the listing.
func (s *BrandStage) finish(ctx context.Context, offset int) error {
	if err := s.store.SetIntMetadata(ctx, storage.KeyBrandsNextOffset, offset+1); err != nil {
		return err
	}
	if err := s.store.SetIntMetadata(ctx, storage.KeyBrandsTotalOffsets, offset-1); err != nil {
		return err
	}
	return s.store.SetIntMetadata(ctx, storage.KeyBrandsComplete, 1)
}
