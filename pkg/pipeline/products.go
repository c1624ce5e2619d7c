package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/parse"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
)

// ProductStage collects product links for each pending brand, one brand per
// pool unit.
type ProductStage struct {
	handles storage.HandleSource
	client  Fetcher
	parser  *parse.Parser
	opts    Options
	log     *logrus.Entry

	records atomic.Int64
}

// NewProductStage returns a ProductStage.
func NewProductStage(handles storage.HandleSource, client Fetcher, opts Options, logger *logrus.Entry) *ProductStage {
	return &ProductStage{
		handles: handles,
		client:  client,
		parser:  parse.New(opts.BaseURL),
		opts:    opts,
		log:     logger.WithField("stage", string(models.StageProducts)),
	}
}

// Run processes every selected brand. Only storage errors and cancellation
// are returned.
func (s *ProductStage) Run(ctx context.Context) (res StageResult, err error) {
	start := time.Now()
	res.Stage = models.StageProducts
	defer func() { res.Duration = time.Since(start) }()

	brands, err := s.selectBrands(ctx)
	if err != nil {
		return res, err
	}
	res.Units = len(brands)
	if len(brands) == 0 {
		s.log.Info("No brands require product scraping, skipping stage")
		return res, nil
	}
	if s.opts.Rescan {
		s.log.Infof("Product workload: revalidating %d brand(s)", len(brands))
	} else {
		s.log.Infof("Product workload: %d brand(s) awaiting scraping", len(brands))
	}

	s.records.Store(0)
	pool, err := RunPool(ctx, s.handles, s.opts.Workers, brands, "Brand", s.log, s.scrapeBrand)
	res.Processed, res.Failed = pool.Processed, pool.Failed
	res.Records = int(s.records.Load())
	return res, err
}

func (s *ProductStage) selectBrands(ctx context.Context) ([]models.Brand, error) {
	h, err := s.handles.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	n, err := h.ResetEmptyBrands(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		s.log.Infof("Requeued %d brand(s) marked complete without products", n)
	}
	return h.BrandsForProducts(ctx, s.opts.Rescan, s.opts.MaxBrands)
}

// bareURL strips the query and fragment from raw.
func bareURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery, u.Fragment = "", ""
	return u.String()
}

// scrapeBrand walks the brand's listing pages. The brand is marked complete
// when a page comes back empty or the product cap is reached; on a fetch
// failure the failed offset is stored for the next run.
func (s *ProductStage) scrapeBrand(ctx context.Context, h *storage.Handle, b models.Brand) error {
	return s.collect(ctx, h, b)
}

func (s *ProductStage) collect(ctx context.Context, store storage.ListingStore, b models.Brand) error {
	brandLog := s.log.WithFields(logrus.Fields{"brand": b.Name, "brand_id": b.ID})
	resumeKey := storage.BrandProductsOffsetKey(b.ID)

	offset := 1
	if s.opts.Rescan {
		if err := store.DeleteMetadata(ctx, resumeKey); err != nil {
			return err
		}
	} else {
		var err error
		if offset, err = store.GetIntMetadata(ctx, resumeKey, 1); err != nil {
			return err
		}
		if offset > 1 {
			brandLog.Infof("Resuming product collection from offset %d", offset)
		}
	}

	existing := 0
	if s.opts.MaxProductsPerBrand > 0 {
		var err error
		if existing, err = store.CountBrandProducts(ctx, b.ID); err != nil {
			return err
		}
	}

	startOffset := offset
	found, complete := 0, false
	var fetchErr error
	for !complete {
		if s.opts.MaxProductsPerBrand > 0 && existing+found >= s.opts.MaxProductsPerBrand {
			brandLog.Debugf("Reached product limit (%d)", s.opts.MaxProductsPerBrand)
			complete = true
			break
		}

		links, err := s.fetchListing(ctx, b.URL, offset, offset == startOffset && startOffset == 1, brandLog)
		if err != nil {
			fetchErr = err
			break
		}
		if len(links) == 0 {
			complete = true
			break
		}
		for _, l := range links {
			if _, err := store.UpsertProductListing(ctx, b.ID, l.Name, l.URL); err != nil {
				return err
			}
			found++
			s.records.Add(1)
			if s.opts.MaxProductsPerBrand > 0 && existing+found >= s.opts.MaxProductsPerBrand {
				break
			}
		}
		offset++
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !complete {
		if err := store.SetIntMetadata(ctx, resumeKey, offset); err != nil {
			return err
		}
		brandLog.Infof("Product collection interrupted, will retry from offset %d", offset)
		return fetchErr
	}
	return s.markComplete(ctx, store, b, found, brandLog)
}

func (s *ProductStage) markComplete(ctx context.Context, store storage.ListingStore, b models.Brand, found int, brandLog *logrus.Entry) error {
	if err := store.SetBrandProductsScraped(ctx, b.ID, true); err != nil {
		return err
	}
	if err := store.DeleteMetadata(ctx, storage.BrandProductsOffsetKey(b.ID)); err != nil {
		return err
	}

	total, err := store.CountBrandProducts(ctx, b.ID)
	if err != nil {
		return err
	}
	emptyKey := storage.BrandEmptyKey(b.ID)
	if total == 0 {
		brandLog.Warn("Brand complete but no products recorded, flagging as empty")
		err = store.SetIntMetadata(ctx, emptyKey, 1)
	} else {
		err = store.DeleteMetadata(ctx, emptyKey)
	}
	if err != nil {
		return err
	}
	brandLog.Infof("Finished brand: %d product(s) this run, %d stored", found, total)
	return nil
}

// fetchListing downloads and parses one listing page. On the brand's first
// page a failure or empty result is retried once against the bare brand URL.
func (s *ProductStage) fetchListing(ctx context.Context, brandURL string, offset int, first bool, brandLog *logrus.Entry) ([]models.Link, error) {
	pageURL := parse.PageURL(brandURL, offset)
	resp, err := s.client.Get(ctx, pageURL)
	var links []models.Link
	if err == nil {
		links = s.parser.ProductList(resp.Body)
	}

	if first && (err != nil || len(links) == 0) && ctx.Err() == nil {
		if bare := bareURL(brandURL); bare != pageURL {
			brandLog.Debugf("First listing page of %s gave nothing, retrying %s", pageURL, bare)
			resp, err = s.client.Get(ctx, bare)
			links = nil
			if err == nil {
				links = s.parser.ProductList(resp.Body)
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("product listing %s: %w", pageURL, err)
	}
	return links, nil
}
