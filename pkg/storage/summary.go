package storage

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
)

// WorkloadSummary counts stored entities and pending work.
func (h *Handle) WorkloadSummary(ctx context.Context) (models.WorkloadSummary, error) {
	var w models.WorkloadSummary
	counts := []struct {
		dst   *int
		table string
		where sq.Sqlizer
	}{
		{&w.BrandsTotal, "brands", nil},
		{&w.BrandsPending, "brands", sq.Eq{"products_scraped": 0}},
		{&w.ProductsTotal, "products", nil},
		{&w.ProductsPendingDetails, "products", sq.Eq{"details_scraped": 0}},
		{&w.IngredientsTotal, "ingredients", nil},
		{&w.FunctionsTotal, "functions", nil},
		{&w.FreeTagsTotal, "free_tags", nil},
	}
	for _, c := range counts {
		b := sq.Select("COUNT(*)").From(c.table)
		if c.where != nil {
			b = b.Where(c.where)
		}
		row, err := queryRowB(ctx, h.conn, b)
		if err != nil {
			return w, err
		}
		if err := row.Scan(c.dst); err != nil {
			return w, dbErr("count "+c.table, err)
		}
	}

	complete, _, err := h.GetMetadata(ctx, KeyBrandsComplete)
	if err != nil {
		return w, err
	}
	w.BrandsComplete = complete == "1"
	w.BrandPagesRemaining = -1
	if w.BrandsComplete {
		w.BrandPagesRemaining = 0
		return w, nil
	}
	total, err := h.GetIntMetadata(ctx, KeyBrandsTotalOffsets, 0)
	if err != nil {
		return w, err
	}
	if total > 0 {
		next, err := h.GetIntMetadata(ctx, KeyBrandsNextOffset, 1)
		if err != nil {
			return w, err
		}
		w.BrandPagesRemaining = max(total-next+1, 0)
	}
	return w, nil
}

// ResetDataset deletes every entity and all metadata.
func (h *Handle) ResetDataset(ctx context.Context) error {
	h.log.Warn("Resetting dataset: deleting all rows and metadata")
	return h.withTx(ctx, func(q querier) error {
		for _, table := range []string{"products", "brands", "ingredients", "functions", "free_tags", "metadata"} {
			if _, err := execB(ctx, q, sq.Delete(table)); err != nil {
				return dbErr("reset "+table, err)
			}
		}
		return nil
	})
}
