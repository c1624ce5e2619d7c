// Package pipeline implements the three resumable crawl stages: brand
// discovery, product discovery and product detail resolution.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/fetch"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// Fetcher downloads a page, failing over between hosts.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Resolver looks up the registry record for an ingredient name. No match is
// an empty record; ok is false when the lookup itself did not finish.
type Resolver interface {
	Resolve(ctx context.Context, name string) (rec models.RegistryRecord, ok bool)
}

// MediaStore saves an image for an entity and returns its local path.
type MediaStore interface {
	StoreImage(ctx context.Context, sourceURL, entityID string) (string, bool)
}

// Options are the run parameters shared by all stages.
type Options struct {
	BaseURL             string
	Rescan              bool
	Workers             int
	MaxPages            int // brand listing pages, 0 = unlimited
	MaxBrands           int // brands stored, and brands listed per run; 0 = unlimited
	MaxProductsPerBrand int
	DiscoverPages       bool // count brand listing pages before crawling
	SkipImages          bool
}

// StageResult summarizes one stage run.
type StageResult struct {
	Stage     models.StageName
	Units     int // pages for brands, brands for products, products for details
	Processed int
	Failed    int
	Records   int // brands or products written
	Duration  time.Duration
}

// isFatal reports whether err must abort the run instead of skipping a unit.
func isFatal(err error) bool {
	return errors.Is(err, utils.ErrDatabase) || errors.Is(err, utils.ErrIDCollision)
}

// progressInterval is how many units pass between progress lines.
const progressInterval = 10

func logProgress(log *logrus.Entry, stage string, done, total int) {
	if total <= 0 || (done%progressInterval != 0 && done != total) {
		return
	}
	log.Infof("%s progress: %d/%d (%.1f%%)", stage, done, total, float64(done)*100/float64(total))
}
