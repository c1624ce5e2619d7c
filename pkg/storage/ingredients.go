package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

var ingredientColumns = []string{
	"id", "name", "url", "rating_tag", "also_called_json", "irritancy", "comedogenicity",
	"details_text", "cas_numbers_json", "ec_numbers_json", "identified_ingredients_json",
	"regulation_provisions_json", "function_ids_json", "quick_facts_json", "proof_references_json",
	"last_checked_at", "last_updated_at",
}

// NameKey is the normalized form used for name lookups: whitespace collapsed, lowercased.
func NameKey(name string) string {
	return strings.ToLower(utils.CollapseWhitespace(name))
}

func scanIngredient(r rowScanner) (*models.Ingredient, error) {
	var i models.Ingredient
	var also, cas, ec, identified, provisions, funcs, facts, proofs string
	err := r.Scan(&i.ID, &i.Name, &i.URL, &i.RatingTag, &also, &i.Irritancy, &i.Comedogenicity,
		&i.DetailsText, &cas, &ec, &identified, &provisions, &funcs, &facts, &proofs,
		&i.LastCheckedAt, &i.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	i.AlsoCalled = decodeList[string](also)
	i.CASNumbers = decodeList[string](cas)
	i.ECNumbers = decodeList[string](ec)
	i.IdentifiedIngredients = decodeList[string](identified)
	i.RegulationProvisions = decodeList[string](provisions)
	i.FunctionIDs = decodeList[string](funcs)
	i.QuickFacts = decodeList[string](facts)
	i.ProofReferences = decodeList[string](proofs)
	return &i, nil
}

func ingredientFields(i models.Ingredient) map[string]any {
	return map[string]any{
		"name":                        i.Name,
		"name_key":                    NameKey(i.Name),
		"rating_tag":                  i.RatingTag,
		"also_called_json":            encodeList(i.AlsoCalled),
		"irritancy":                   i.Irritancy,
		"comedogenicity":              i.Comedogenicity,
		"details_text":                i.DetailsText,
		"cas_numbers_json":            encodeList(i.CASNumbers),
		"ec_numbers_json":             encodeList(i.ECNumbers),
		"identified_ingredients_json": encodeList(i.IdentifiedIngredients),
		"regulation_provisions_json":  encodeList(i.RegulationProvisions),
		"function_ids_json":           encodeList(i.FunctionIDs),
		"quick_facts_json":            encodeList(i.QuickFacts),
		"proof_references_json":       encodeList(i.ProofReferences),
	}
}

func (h *Handle) ingredientBy(ctx context.Context, q querier, where sq.Sqlizer) (*models.Ingredient, error) {
	row, err := queryRowB(ctx, q, sq.Select(ingredientColumns...).From("ingredients").Where(where).OrderBy("rowid").Limit(1))
	if err != nil {
		return nil, err
	}
	i, err := scanIngredient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbErr("load ingredient", err)
	}
	return i, nil
}

// GetIngredient returns the ingredient with id, or nil.
func (h *Handle) GetIngredient(ctx context.Context, id string) (*models.Ingredient, error) {
	return h.ingredientBy(ctx, h.conn, sq.Eq{"id": id})
}

// IngredientIDByURL looks up an ingredient by its page URL.
func (h *Handle) IngredientIDByURL(ctx context.Context, url string) (string, bool, error) {
	i, err := h.ingredientBy(ctx, h.conn, sq.Eq{"url": url})
	if err != nil || i == nil {
		return "", false, err
	}
	return i.ID, true, nil
}

// IngredientByURL returns the ingredient stored for a page URL, or nil.
func (h *Handle) IngredientByURL(ctx context.Context, url string) (*models.Ingredient, error) {
	return h.ingredientBy(ctx, h.conn, sq.Eq{"url": url})
}

// TouchIngredient refreshes last_checked_at without changing content.
func (h *Handle) TouchIngredient(ctx context.Context, id string) error {
	_, err := execB(ctx, h.conn, sq.Update("ingredients").Set("last_checked_at", h.store.timestamp()).Where(sq.Eq{"id": id}))
	return dbErr("touch ingredient", err)
}

// IngredientIDByName looks up the first ingredient whose normalized name matches.
func (h *Handle) IngredientIDByName(ctx context.Context, name string) (string, bool, error) {
	i, err := h.ingredientBy(ctx, h.conn, sq.Eq{"name_key": NameKey(name)})
	if err != nil || i == nil {
		return "", false, err
	}
	return i.ID, true, nil
}

// UpsertIngredient records ing (matched by URL) and returns its id.
func (h *Handle) UpsertIngredient(ctx context.Context, ing models.Ingredient) (string, error) {
	var id string
	err := h.withTx(ctx, func(q querier) error {
		now := h.store.timestamp()
		existing, err := h.ingredientBy(ctx, q, sq.Eq{"url": ing.URL})
		if err != nil {
			return err
		}
		fields := ingredientFields(ing)

		if existing == nil {
			id, err = h.insertWithID(ctx, q, "ingredients", func(newID string) sq.InsertBuilder {
				row := map[string]any{"id": newID, "url": ing.URL, "last_checked_at": now, "last_updated_at": now}
				for k, v := range fields {
					row[k] = v
				}
				return sq.Insert("ingredients").SetMap(row)
			})
			return err
		}

		id = existing.ID
		set := map[string]any{"last_checked_at": now}
		if fieldsDiffer(ingredientFields(*existing), fields) {
			for k, v := range fields {
				set[k] = v
			}
			set["last_updated_at"] = now
		}
		_, err = execB(ctx, q, sq.Update("ingredients").SetMap(set).Where(sq.Eq{"id": id}))
		return dbErr("update ingredient", err)
	})
	return id, err
}

// IngredientSummary is the short form used for search.
type IngredientSummary struct {
	ID   string
	Name string
	URL  string
}

// ListIngredients returns every ingredient's id, name and URL in insertion order.
func (h *Handle) ListIngredients(ctx context.Context) ([]IngredientSummary, error) {
	rows, err := queryB(ctx, h.conn, sq.Select("id", "name", "url").From("ingredients").OrderBy("rowid"))
	if err != nil {
		return nil, dbErr("list ingredients", err)
	}
	defer rows.Close()
	var out []IngredientSummary
	for rows.Next() {
		var s IngredientSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.URL); err != nil {
			return nil, dbErr("scan ingredient", err)
		}
		out = append(out, s)
	}
	return out, rowsErr(rows.Err())
}

// EnsureFunction returns the id of the function named name (case-insensitive),
// creating it when missing. A stored function without a URL adopts url.
func (h *Handle) EnsureFunction(ctx context.Context, name, url string) (string, error) {
	name = utils.CollapseWhitespace(name)
	var id string
	err := h.withTx(ctx, func(q querier) error {
		row, err := queryRowB(ctx, q, sq.Select("id", "url").From("functions").Where("name = ? COLLATE NOCASE", name))
		if err != nil {
			return err
		}
		var storedURL string
		err = row.Scan(&id, &storedURL)
		if errors.Is(err, sql.ErrNoRows) {
			id, err = h.insertWithID(ctx, q, "functions", func(newID string) sq.InsertBuilder {
				return sq.Insert("functions").Columns("id", "name", "url").Values(newID, name, url)
			})
			return err
		}
		if err != nil {
			return dbErr("load function", err)
		}
		if storedURL == "" && url != "" {
			_, err = execB(ctx, q, sq.Update("functions").Set("url", url).Where(sq.Eq{"id": id}))
			return dbErr("update function url", err)
		}
		return nil
	})
	return id, err
}

// UpsertFreeTag returns the id of tag, creating it when missing. A non-empty
// tooltip replaces the stored one.
func (h *Handle) UpsertFreeTag(ctx context.Context, tag, tooltip string) (string, error) {
	var id string
	err := h.withTx(ctx, func(q querier) error {
		row, err := queryRowB(ctx, q, sq.Select("id", "tooltip").From("free_tags").Where(sq.Eq{"tag": tag}))
		if err != nil {
			return err
		}
		var stored string
		err = row.Scan(&id, &stored)
		if errors.Is(err, sql.ErrNoRows) {
			id, err = h.insertWithID(ctx, q, "free_tags", func(newID string) sq.InsertBuilder {
				return sq.Insert("free_tags").Columns("id", "tag", "tooltip").Values(newID, tag, tooltip)
			})
			return err
		}
		if err != nil {
			return dbErr("load free tag", err)
		}
		if tooltip != "" && tooltip != stored {
			_, err = execB(ctx, q, sq.Update("free_tags").Set("tooltip", tooltip).Where(sq.Eq{"id": id}))
			return dbErr("update free tag", err)
		}
		return nil
	})
	return id, err
}

// FunctionNames maps function ids to names. Unknown ids are absent.
func (h *Handle) FunctionNames(ctx context.Context, ids []string) (map[string]string, error) {
	return h.namesByID(ctx, "functions", "name", ids)
}

// FreeTagNames maps free-tag ids to tags. Unknown ids are absent.
func (h *Handle) FreeTagNames(ctx context.Context, ids []string) (map[string]string, error) {
	return h.namesByID(ctx, "free_tags", "tag", ids)
}

// IngredientNames maps ingredient ids to names. Unknown ids are absent.
func (h *Handle) IngredientNames(ctx context.Context, ids []string) (map[string]string, error) {
	return h.namesByID(ctx, "ingredients", "name", ids)
}

func (h *Handle) namesByID(ctx context.Context, table, column string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := queryB(ctx, h.conn, sq.Select("id", column).From(table).Where(sq.Eq{"id": ids}))
	if err != nil {
		return nil, dbErr("load "+table+" names", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, dbErr("scan "+table, err)
		}
		out[id] = name
	}
	return out, rowsErr(rows.Err())
}
