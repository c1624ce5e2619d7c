package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/parse"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// DetailStage fetches product pages and resolves everything they reference.
type DetailStage struct {
	handles  storage.HandleSource
	client   Fetcher
	resolver Resolver   // may be nil
	media    MediaStore // may be nil
	parser   *parse.Parser
	opts     Options
	log      *logrus.Entry

	records atomic.Int64
}

// NewDetailStage returns a DetailStage. resolver and media may be nil.
func NewDetailStage(handles storage.HandleSource, client Fetcher, resolver Resolver, media MediaStore, opts Options, logger *logrus.Entry) *DetailStage {
	return &DetailStage{
		handles:  handles,
		client:   client,
		resolver: resolver,
		media:    media,
		parser:   parse.New(opts.BaseURL),
		opts:     opts,
		log:      logger.WithField("stage", string(models.StageDetails)),
	}
}

// Run processes every selected product.
func (s *DetailStage) Run(ctx context.Context) (res StageResult, err error) {
	start := time.Now()
	res.Stage = models.StageDetails
	defer func() { res.Duration = time.Since(start) }()

	products, err := s.selectProducts(ctx)
	if err != nil {
		return res, err
	}
	res.Units = len(products)
	if len(products) == 0 {
		s.log.Info("No products require detail scraping, skipping stage")
		return res, nil
	}
	s.log.Infof("Detail workload: %d product(s)", len(products))

	s.records.Store(0)
	pool, err := RunPool(ctx, s.handles, s.opts.Workers, products, "Product", s.log, s.scrapeProduct)
	res.Processed, res.Failed = pool.Processed, pool.Failed
	res.Records = int(s.records.Load())
	return res, err
}

func (s *DetailStage) selectProducts(ctx context.Context) ([]models.Product, error) {
	h, err := s.handles.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return h.ProductsForDetails(ctx, s.opts.Rescan, 0)
}

func (s *DetailStage) scrapeProduct(ctx context.Context, h *storage.Handle, p models.Product) error {
	return s.process(ctx, h, p)
}

// productRefs indexes the ingredients resolved for one product page.
type productRefs struct {
	byURL  map[string]string
	byName map[string]string
}

func (r productRefs) add(id string, name string, urls ...string) {
	for _, u := range urls {
		if u != "" {
			r.byURL[u] = id
		}
	}
	if key := storage.NameKey(name); key != "" {
		if _, ok := r.byName[key]; !ok {
			r.byName[key] = id
		}
	}
}

func (s *DetailStage) process(ctx context.Context, store storage.DetailStore, p models.Product) error {
	productLog := s.log.WithFields(logrus.Fields{"product_id": p.ID, "url": p.URL})

	resp, err := s.client.Get(ctx, p.URL)
	if err != nil {
		return fmt.Errorf("product page: %w", err)
	}
	details, err := s.parser.ProductPage(resp.Body)
	if err != nil {
		return fmt.Errorf("product page %s: %w", p.URL, err)
	}

	refs := productRefs{byURL: map[string]string{}, byName: map[string]string{}}
	var ingredientIDs []string
	for _, ref := range details.Ingredients {
		id, err := s.ensureIngredient(ctx, store, ref, productLog)
		if err != nil {
			return err
		}
		refs.add(id, ref.Name, ref.TooltipURL, ref.URL)
		ingredientIDs = utils.AppendUnique(ingredientIDs, id)
	}

	functions, err := s.functionRefs(ctx, store, details.FunctionTable, refs)
	if err != nil {
		return err
	}
	keyIDs, err := s.highlightIDs(ctx, store, details.Highlights.Key, refs)
	if err != nil {
		return err
	}
	otherIDs, err := s.highlightIDs(ctx, store, details.Highlights.Other, refs)
	if err != nil {
		return err
	}
	var tagIDs []string
	for _, t := range details.Highlights.FreeTags {
		id, err := store.UpsertFreeTag(ctx, t.Tag, t.Tooltip)
		if err != nil {
			return err
		}
		tagIDs = utils.AppendUnique(tagIDs, id)
	}

	imagePath := ""
	if !s.opts.SkipImages && s.media != nil && details.ImageURL != "" {
		imagePath, _ = s.media.StoreImage(ctx, details.ImageURL, p.ID)
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	_, err = store.UpsertProductDetails(ctx, models.Product{
		BrandID:             p.BrandID,
		Name:                details.Name,
		URL:                 p.URL,
		Description:         details.Description,
		ImagePath:           imagePath,
		IngredientIDs:       ingredientIDs,
		KeyIngredientIDs:    keyIDs,
		OtherIngredientIDs:  otherIDs,
		FreeTagIDs:          tagIDs,
		IngredientFunctions: functions,
		Discontinued:        details.Discontinued,
		ReplacementURL:      details.ReplacementURL,
	})
	if err != nil {
		return err
	}
	s.records.Add(1)
	productLog.WithFields(logrus.Fields{
		"ingredients": len(ingredientIDs),
		"free_tags":   len(tagIDs),
	}).Debug("Product details stored")
	return nil
}

// ensureIngredient returns the id of the referenced ingredient, creating it
// from its page (and the registry) when unknown or when rescanning. A stored
// ingredient is never overwritten with data from a fetch or lookup that did
// not complete.
func (s *DetailStage) ensureIngredient(ctx context.Context, store storage.DetailStore, ref models.IngredientRef, productLog *logrus.Entry) (string, error) {
	if !s.opts.Rescan {
		for _, u := range []string{ref.TooltipURL, ref.URL} {
			if u == "" {
				continue
			}
			id, ok, err := store.IngredientIDByURL(ctx, u)
			if err != nil || ok {
				return id, err
			}
		}
	}

	identity := ref.TooltipURL
	if identity == "" {
		identity = ref.URL
	}
	existing, err := store.IngredientByURL(ctx, identity)
	if err != nil {
		return "", err
	}
	ingLog := productLog.WithField("ingredient", ref.Name)
	ing := models.Ingredient{Name: ref.Name, URL: identity}

	resp, err := s.client.Get(ctx, identity)
	switch {
	case err == nil:
		page := s.parser.IngredientPage(resp.Body)
		if page.Name != "" {
			ing.Name = page.Name
		}
		ing.RatingTag = page.RatingTag
		ing.AlsoCalled = page.AlsoCalled
		ing.Irritancy = page.Irritancy
		ing.Comedogenicity = page.Comedogenicity
		ing.DetailsText = page.DetailsText
		ing.QuickFacts = page.QuickFacts
		ing.ProofReferences = page.ProofReferences
		for _, fn := range page.WhatItDoes {
			id, err := store.EnsureFunction(ctx, fn.Name, fn.URL)
			if err != nil {
				return "", err
			}
			ing.FunctionIDs = utils.AppendUnique(ing.FunctionIDs, id)
		}
	case ctx.Err() != nil:
		return "", ctx.Err()
	case existing != nil:
		ingLog.Warnf("Ingredient page unavailable, keeping stored record: %v", err)
		return existing.ID, store.TouchIngredient(ctx, existing.ID)
	default:
		ingLog.Warnf("Ingredient page unavailable, storing name only: %v", err)
	}

	resolved := false
	if s.resolver != nil {
		rec, ok := s.resolver.Resolve(ctx, ing.Name)
		if ok {
			resolved = true
			ing.CASNumbers = rec.CASNumbers
			ing.ECNumbers = rec.ECNumbers
			ing.IdentifiedIngredients = rec.IdentifiedIngredients
			ing.RegulationProvisions = rec.RegulationProvisions
			for _, name := range rec.Functions {
				id, err := store.EnsureFunction(ctx, name, "")
				if err != nil {
					return "", err
				}
				ing.FunctionIDs = utils.AppendUnique(ing.FunctionIDs, id)
			}
		}
	}
	if !resolved && existing != nil {
		// Registry data could not be refreshed; carry the stored values.
		ing.CASNumbers = existing.CASNumbers
		ing.ECNumbers = existing.ECNumbers
		ing.IdentifiedIngredients = existing.IdentifiedIngredients
		ing.RegulationProvisions = existing.RegulationProvisions
		for _, id := range existing.FunctionIDs {
			ing.FunctionIDs = utils.AppendUnique(ing.FunctionIDs, id)
		}
		ingLog.Debug("Registry lookup unavailable, keeping stored registry fields")
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return store.UpsertIngredient(ctx, ing)
}

// functionRefs maps the product's ingredient table onto stored ids. Rows
// whose ingredient is not among the product's ingredients are dropped.
func (s *DetailStage) functionRefs(ctx context.Context, store storage.DetailStore, rows []models.FunctionRow, refs productRefs) ([]models.IngredientFunctionRef, error) {
	var out []models.IngredientFunctionRef
	index := map[string]int{}
	for _, row := range rows {
		id, ok := refs.byURL[row.Ingredient.URL]
		if !ok {
			id, ok = refs.byName[storage.NameKey(row.Ingredient.Name)]
		}
		if !ok {
			continue
		}
		var fnIDs []string
		for _, fn := range row.Functions {
			fid, err := store.EnsureFunction(ctx, fn.Name, fn.URL)
			if err != nil {
				return nil, err
			}
			fnIDs = utils.AppendUnique(fnIDs, fid)
		}
		if i, seen := index[id]; seen {
			for _, fid := range fnIDs {
				out[i].FunctionIDs = utils.AppendUnique(out[i].FunctionIDs, fid)
			}
			continue
		}
		index[id] = len(out)
		out = append(out, models.IngredientFunctionRef{IngredientID: id, FunctionIDs: fnIDs})
	}
	return out, nil
}

// highlightIDs resolves highlighted ingredients by link, then by name among
// this product's ingredients, then by the store. Unresolved entries are skipped.
func (s *DetailStage) highlightIDs(ctx context.Context, store storage.IngredientStore, entries []models.HighlightEntry, refs productRefs) ([]string, error) {
	var ids []string
	for _, e := range entries {
		id, ok := refs.byURL[e.Ingredient.URL]
		if !ok {
			id, ok = refs.byName[storage.NameKey(e.Ingredient.Name)]
		}
		var err error
		if !ok && e.Ingredient.URL != "" {
			id, ok, err = store.IngredientIDByURL(ctx, e.Ingredient.URL)
		}
		if err == nil && !ok && e.Ingredient.Name != "" {
			id, ok, err = store.IngredientIDByName(ctx, e.Ingredient.Name)
		}
		if err != nil {
			return nil, err
		}
		if ok {
			ids = utils.AppendUnique(ids, id)
		}
	}
	return ids, nil
}
