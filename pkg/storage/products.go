package storage

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
)

var productColumns = []string{
	"id", "brand_id", "name", "url", "description", "image_path",
	"ingredient_ids_json", "key_ingredient_ids_json", "other_ingredient_ids_json",
	"free_tag_ids_json", "ingredient_functions_json",
	"discontinued", "replacement_product_url", "details_scraped",
	"last_checked_at", "last_updated_at",
}

func scanProduct(r rowScanner) (*models.Product, error) {
	var p models.Product
	var all, key, other, tags, funcs string
	var discontinued, scraped int
	err := r.Scan(&p.ID, &p.BrandID, &p.Name, &p.URL, &p.Description, &p.ImagePath,
		&all, &key, &other, &tags, &funcs,
		&discontinued, &p.ReplacementURL, &scraped,
		&p.LastCheckedAt, &p.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	p.IngredientIDs = decodeList[string](all)
	p.KeyIngredientIDs = decodeList[string](key)
	p.OtherIngredientIDs = decodeList[string](other)
	p.FreeTagIDs = decodeList[string](tags)
	p.IngredientFunctions = decodeList[models.IngredientFunctionRef](funcs)
	p.Discontinued = discontinued != 0
	p.DetailsScraped = scraped != 0
	return &p, nil
}

func (h *Handle) productBy(ctx context.Context, q querier, where sq.Sqlizer) (*models.Product, error) {
	row, err := queryRowB(ctx, q, sq.Select(productColumns...).From("products").Where(where))
	if err != nil {
		return nil, err
	}
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("load product", err)
	}
	return p, nil
}

// GetProduct returns the product with id, or nil.
func (h *Handle) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return h.productBy(ctx, h.conn, sq.Eq{"id": id})
}

// ProductByURL returns the product stored for url, or nil.
func (h *Handle) ProductByURL(ctx context.Context, url string) (*models.Product, error) {
	return h.productBy(ctx, h.conn, sq.Eq{"url": url})
}

// UpsertProductListing records a product seen on brandID's listing.
// Tracked fields are the owning brand and the name.
func (h *Handle) UpsertProductListing(ctx context.Context, brandID, name, url string) (string, error) {
	var id string
	err := h.withTx(ctx, func(q querier) error {
		now := h.store.timestamp()
		existing, err := h.productBy(ctx, q, sq.Eq{"url": url})
		if err != nil {
			return err
		}
		if existing == nil {
			id, err = h.insertWithID(ctx, q, "products", func(newID string) sq.InsertBuilder {
				return sq.Insert("products").
					Columns("id", "brand_id", "name", "url", "last_checked_at", "last_updated_at").
					Values(newID, brandID, name, url, now, now)
			})
			return err
		}

		id = existing.ID
		set := map[string]any{"last_checked_at": now}
		if existing.BrandID != brandID || existing.Name != name {
			set["brand_id"] = brandID
			set["name"] = name
			set["last_updated_at"] = now
		}
		_, err = execB(ctx, q, sq.Update("products").SetMap(set).Where(sq.Eq{"id": id}))
		return dbErr("update product listing", err)
	})
	return id, err
}

// UpsertProductDetails writes the detail fields of p (matched by URL) and
// sets details_scraped. An empty ImagePath keeps the stored image.
// last_updated_at moves only when a detail field differs.
func (h *Handle) UpsertProductDetails(ctx context.Context, p models.Product) (string, error) {
	var id string
	err := h.withTx(ctx, func(q querier) error {
		now := h.store.timestamp()
		existing, err := h.productBy(ctx, q, sq.Eq{"url": p.URL})
		if err != nil {
			return err
		}
		if existing != nil && p.ImagePath == "" {
			p.ImagePath = existing.ImagePath
		}

		fields := map[string]any{
			"name":                      p.Name,
			"description":               p.Description,
			"image_path":                p.ImagePath,
			"ingredient_ids_json":       encodeList(p.IngredientIDs),
			"key_ingredient_ids_json":   encodeList(p.KeyIngredientIDs),
			"other_ingredient_ids_json": encodeList(p.OtherIngredientIDs),
			"free_tag_ids_json":         encodeList(p.FreeTagIDs),
			"ingredient_functions_json": encodeList(p.IngredientFunctions),
			"discontinued":              boolInt(p.Discontinued),
			"replacement_product_url":   p.ReplacementURL,
		}

		if existing == nil {
			id, err = h.insertWithID(ctx, q, "products", func(newID string) sq.InsertBuilder {
				row := map[string]any{
					"id":              newID,
					"brand_id":        p.BrandID,
					"url":             p.URL,
					"details_scraped": 1,
					"last_checked_at": now,
					"last_updated_at": now,
				}
				for k, v := range fields {
					row[k] = v
				}
				return sq.Insert("products").SetMap(row)
			})
			return err
		}

		id = existing.ID
		set := map[string]any{"last_checked_at": now, "details_scraped": 1}
		if productDetailsChanged(existing, fields) {
			for k, v := range fields {
				set[k] = v
			}
			set["last_updated_at"] = now
		}
		_, err = execB(ctx, q, sq.Update("products").SetMap(set).Where(sq.Eq{"id": id}))
		return dbErr("update product details", err)
	})
	return id, err
}

func productDetailsChanged(old *models.Product, fields map[string]any) bool {
	stored := map[string]any{
		"name":                      old.Name,
		"description":               old.Description,
		"image_path":                old.ImagePath,
		"ingredient_ids_json":       encodeList(old.IngredientIDs),
		"key_ingredient_ids_json":   encodeList(old.KeyIngredientIDs),
		"other_ingredient_ids_json": encodeList(old.OtherIngredientIDs),
		"free_tag_ids_json":         encodeList(old.FreeTagIDs),
		"ingredient_functions_json": encodeList(old.IngredientFunctions),
		"discontinued":              boolInt(old.Discontinued),
		"replacement_product_url":   old.ReplacementURL,
	}
	return fieldsDiffer(stored, fields)
}

// ProductsForDetails lists products whose detail page still needs a visit,
// or every product when rescan is set. limit <= 0 means no limit.
func (h *Handle) ProductsForDetails(ctx context.Context, rescan bool, limit int) ([]models.Product, error) {
	b := sq.Select(productColumns...).From("products").OrderBy("rowid")
	if !rescan {
		b = b.Where(sq.Eq{"details_scraped": 0})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	rows, err := queryB(ctx, h.conn, b)
	if err != nil {
		return nil, dbErr("select products", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, dbErr("scan product", err)
		}
		out = append(out, *p)
	}
	return out, rowsErr(rows.Err())
}

// CountBrandProducts counts products owned by brandID.
func (h *Handle) CountBrandProducts(ctx context.Context, brandID string) (int, error) {
	row, err := queryRowB(ctx, h.conn, sq.Select("COUNT(*)").From("products").Where(sq.Eq{"brand_id": brandID}))
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, dbErr("count brand products", err)
	}
	return n, nil
}
