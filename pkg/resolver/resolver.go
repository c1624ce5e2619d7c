// Package resolver cross-references ingredient names against the external
// regulatory registry by driving a browser through its search form.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/htmltree"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// Cache stores resolved records, misses included, by canonical name.
type Cache interface {
	Get(key string) (models.RegistryRecord, bool, error)
	Put(key string, rec models.RegistryRecord) error
}

// Resolver looks up registry records. Calls are serialized because the
// browser has a single tab.
type Resolver struct {
	mu      sync.Mutex
	browser Browser
	cache   Cache
	cfg     config.ResolverConfig
	poll    time.Duration
	log     *logrus.Entry
}

// pollInterval is how often a pending page is re-read.
const pollInterval = 100 * time.Millisecond

// New returns a Resolver. cache may be nil.
func New(browser Browser, cache Cache, cfg config.ResolverConfig, logger *logrus.Entry) *Resolver {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	return &Resolver{
		browser: browser,
		cache:   cache,
		cfg:     cfg,
		poll:    pollInterval,
		log:     logger.WithField("component", "resolver"),
	}
}

// SearchTerms returns the slash-separated aliases of name followed by the
// whole name, whitespace-normalized and without repeats.
func SearchTerms(name string) []string {
	full := utils.CollapseWhitespace(name)
	if full == "" {
		return nil
	}
	var terms []string
	if strings.Contains(full, "/") {
		terms = append(terms, strings.Split(full, "/")...)
	}
	return utils.DedupeFold(append(terms, full))
}

// Resolve returns the registry record for an ingredient display name. A name
// nothing matches yields an empty record. ok is false when the lookup could
// not finish (browser failure or cancellation), so the empty record says
// nothing about the registry.
func (r *Resolver) Resolve(ctx context.Context, name string) (models.RegistryRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Canonicalize(name)
	if key == "" {
		return models.RegistryRecord{}, true
	}
	if r.cache != nil {
		rec, found, err := r.cache.Get(key)
		if err != nil {
			r.log.Warnf("Registry cache read failed for '%s': %v", name, err)
		} else if found {
			return rec, true
		}
	}

	expected := ""
	if !strings.Contains(name, "/") {
		expected = name
	}

	transient := false
	for _, term := range SearchTerms(name) {
		if ctx.Err() != nil {
			return models.RegistryRecord{}, false
		}
		rec, err := r.lookup(ctx, term, expected)
		if err == nil {
			rec.Functions = titleCase(rec.Functions)
			r.store(key, rec)
			r.log.WithFields(logrus.Fields{"ingredient": name, "term": term}).Debug("Registry record found")
			return rec, true
		}
		if !errors.Is(err, utils.ErrLookupMiss) {
			transient = true
		}
		r.log.WithField("term", term).Debugf("Registry lookup miss: %v", err)
	}

	// A miss caused by automation failures is not remembered.
	if transient || ctx.Err() != nil {
		return models.RegistryRecord{}, false
	}
	r.store(key, models.RegistryRecord{})
	return models.RegistryRecord{}, true
}

func (r *Resolver) store(key string, rec models.RegistryRecord) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Put(key, rec); err != nil {
		r.log.Warnf("Registry cache write failed for '%s': %v", key, err)
	}
}

func titleCase(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, utils.TitleCase(v))
	}
	return utils.DedupeFold(out)
}

// lookup runs one search. ErrLookupMiss means the registry had nothing for
// term; ErrAutomation means the browser failed or a page never rendered.
func (r *Resolver) lookup(ctx context.Context, term, expected string) (models.RegistryRecord, error) {
	var rec models.RegistryRecord
	if err := r.browser.Navigate(ctx, r.cfg.SearchURL); err != nil {
		return rec, utils.WrapErrorf(utils.ErrAutomation, err, "navigate %s", r.cfg.SearchURL)
	}
	if err := r.browser.Fill(ctx, r.cfg.SearchInput, term); err != nil {
		return rec, utils.WrapErrorf(utils.ErrAutomation, err, "fill search input")
	}
	searchPage, err := r.browser.HTML(ctx)
	if err != nil {
		return rec, utils.WrapErrorf(utils.ErrAutomation, err, "read search page")
	}
	if err := r.browser.Click(ctx, r.cfg.SubmitButton); err != nil {
		return rec, utils.WrapErrorf(utils.ErrAutomation, err, "submit search")
	}

	root, resultsPage, err := r.awaitPage(ctx, searchPage, nil)
	if err != nil {
		return rec, fmt.Errorf("search results for '%s': %w", term, err)
	}
	if IsDetailView(root) {
		return ParseRecord(root), nil
	}

	cands := Candidates(root)
	best, ok := Rank(cands, term, expected)
	if !ok {
		return rec, fmt.Errorf("%w: no results for '%s'", utils.ErrLookupMiss, term)
	}
	if err := r.browser.Click(ctx, anchorSelector(cands[best].Href)); err != nil {
		return rec, utils.WrapErrorf(utils.ErrAutomation, err, "open result '%s'", cands[best].Text)
	}

	root, _, err = r.awaitPage(ctx, resultsPage, IsDetailView)
	if err != nil {
		return rec, fmt.Errorf("result '%s': %w", cands[best].Text, err)
	}
	return ParseRecord(root), nil
}

// awaitPage polls the tab until its markup differs from previous and, when
// ready is set, ready holds for it. Running out of WaitTimeout is an
// automation failure.
func (r *Resolver) awaitPage(ctx context.Context, previous string, ready func(htmltree.Node) bool) (htmltree.Node, string, error) {
	deadline := time.Now().Add(r.cfg.WaitTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return htmltree.Node{}, "", fmt.Errorf("%w: page did not render within %s", utils.ErrAutomation, r.cfg.WaitTimeout)
		}
		if err := r.browser.WaitFor(ctx, r.cfg.ResultsTable, remaining); err != nil {
			return htmltree.Node{}, "", utils.WrapErrorf(utils.ErrAutomation, err, "wait for %s", r.cfg.ResultsTable)
		}
		markup, err := r.browser.HTML(ctx)
		if err != nil {
			return htmltree.Node{}, "", utils.WrapErrorf(utils.ErrAutomation, err, "read page")
		}
		if markup != previous {
			root := htmltree.ParseString(markup).Root()
			if ready == nil || ready(root) {
				return root, markup, nil
			}
		}

		select {
		case <-ctx.Done():
			return htmltree.Node{}, "", utils.WrapErrorf(utils.ErrAutomation, ctx.Err(), "wait for page")
		case <-time.After(r.poll):
		}
	}
}

// anchorSelector addresses a result link by its href.
func anchorSelector(href string) string {
	return fmt.Sprintf(`a[href="%s"]`, strings.ReplaceAll(href, `"`, `\"`))
}

// Close releases the browser.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.browser.Close()
}
