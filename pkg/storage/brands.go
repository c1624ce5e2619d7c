package storage

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
)

var brandColumns = []string{"id", "name", "url", "products_scraped", "last_checked_at", "last_updated_at"}

// UpsertBrand records a brand seen at url and returns its id.
func (h *Handle) UpsertBrand(ctx context.Context, name, url string) (string, error) {
	var id string
	err := h.withTx(ctx, func(q querier) error {
		var err error
		id, err = h.upsertBrand(ctx, q, name, url)
		return err
	})
	return id, err
}

// InsertBrands upserts one listing page of brands in a single transaction and
// returns their ids in input order.
func (h *Handle) InsertBrands(ctx context.Context, links []models.Link) ([]string, error) {
	ids := make([]string, 0, len(links))
	err := h.withTx(ctx, func(q querier) error {
		for _, l := range links {
			id, err := h.upsertBrand(ctx, q, l.Name, l.URL)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (h *Handle) upsertBrand(ctx context.Context, q querier, name, url string) (string, error) {
	now := h.store.timestamp()
	existing, err := h.brandBy(ctx, q, sq.Eq{"url": url})
	if err != nil {
		return "", err
	}
	if existing == nil {
		return h.insertWithID(ctx, q, "brands", func(id string) sq.InsertBuilder {
			return sq.Insert("brands").
				Columns("id", "name", "url", "products_scraped", "last_checked_at", "last_updated_at").
				Values(id, name, url, 0, now, now)
		})
	}

	set := map[string]any{"last_checked_at": now}
	if existing.Name != name {
		set["name"] = name
		set["last_updated_at"] = now
	}
	if _, err := execB(ctx, q, sq.Update("brands").SetMap(set).Where(sq.Eq{"id": existing.ID})); err != nil {
		return "", dbErr("update brand", err)
	}
	return existing.ID, nil
}

// CountBrands returns the number of stored brands.
func (h *Handle) CountBrands(ctx context.Context) (int, error) {
	row, err := queryRowB(ctx, h.conn, sq.Select("COUNT(*)").From("brands"))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, dbErr("count brands", err)
	}
	return n, nil
}

// GetBrand returns the brand with id, or nil when it does not exist.
func (h *Handle) GetBrand(ctx context.Context, id string) (*models.Brand, error) {
	return h.brandBy(ctx, h.conn, sq.Eq{"id": id})
}

// BrandByURL returns the brand stored for url, or nil.
func (h *Handle) BrandByURL(ctx context.Context, url string) (*models.Brand, error) {
	return h.brandBy(ctx, h.conn, sq.Eq{"url": url})
}

func (h *Handle) brandBy(ctx context.Context, q querier, where sq.Sqlizer) (*models.Brand, error) {
	row, err := queryRowB(ctx, q, sq.Select(brandColumns...).From("brands").Where(where))
	if err != nil {
		return nil, err
	}
	b, err := scanBrand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("load brand", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBrand(r rowScanner) (*models.Brand, error) {
	var b models.Brand
	var scraped int
	if err := r.Scan(&b.ID, &b.Name, &b.URL, &scraped, &b.LastCheckedAt, &b.LastUpdatedAt); err != nil {
		return nil, err
	}
	b.ProductsScraped = scraped != 0
	return &b, nil
}

// SetBrandProductsScraped flips the brand's product-listing completion flag.
func (h *Handle) SetBrandProductsScraped(ctx context.Context, brandID string, done bool) error {
	_, err := execB(ctx, h.conn, sq.Update("brands").
		Set("products_scraped", boolInt(done)).
		Where(sq.Eq{"id": brandID}))
	if err != nil {
		return dbErr("mark brand", err)
	}
	return nil
}

// BrandsForProducts lists brands whose product listing still needs a visit,
// or every brand when rescan is set. limit <= 0 means no limit.
func (h *Handle) BrandsForProducts(ctx context.Context, rescan bool, limit int) ([]models.Brand, error) {
	b := sq.Select(brandColumns...).From("brands").OrderBy("rowid")
	if !rescan {
		b = b.Where(sq.Eq{"products_scraped": 0})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := queryB(ctx, h.conn, b)
	if err != nil {
		return nil, dbErr("select brands", err)
	}
	defer rows.Close()

	var out []models.Brand
	for rows.Next() {
		br, err := scanBrand(rows)
		if err != nil {
			return nil, dbErr("scan brand", err)
		}
		out = append(out, *br)
	}
	return out, rowsErr(rows.Err())
}

// ResetEmptyBrands clears the completion flag of brands that are marked
// complete, own no product and carry no confirmed-empty marker. Such brands
// were interrupted before their listing was read and must be retried.
func (h *Handle) ResetEmptyBrands(ctx context.Context) (int, error) {
	res, err := h.conn.ExecContext(ctx, `
		UPDATE brands SET products_scraped = 0
		WHERE products_scraped = 1
		  AND NOT EXISTS (SELECT 1 FROM products p WHERE p.brand_id = brands.id)
		  AND NOT EXISTS (SELECT 1 FROM metadata m WHERE m.key = ? || brands.id)`,
		brandEmptyPrefix)
	if err != nil {
		return 0, dbErr("reset empty brands", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func rowsErr(err error) error {
	if err == nil {
		return nil
	}
	return dbErr("iterate rows", err)
}
