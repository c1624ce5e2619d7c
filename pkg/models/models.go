package models

// Brand is a manufacturer listed on the reference site. Identity is URL.
type Brand struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	URL             string `json:"url"`
	ProductsScraped bool   `json:"products_scraped"`
	LastCheckedAt   string `json:"last_checked_at,omitempty"`
	LastUpdatedAt   string `json:"last_updated_at,omitempty"`
}

// Product is a single product page. Identity is URL.
// All id lists are ordered and free of duplicates.
type Product struct {
	ID                  string                  `json:"id"`
	BrandID             string                  `json:"brand_id"`
	Name                string                  `json:"name"`
	URL                 string                  `json:"url"`
	Description         string                  `json:"description,omitempty"`
	ImagePath           string                  `json:"image_path,omitempty"`
	IngredientIDs       []string                `json:"ingredient_ids"`
	KeyIngredientIDs    []string                `json:"key_ingredient_ids"`
	OtherIngredientIDs  []string                `json:"other_ingredient_ids"`
	FreeTagIDs          []string                `json:"free_tag_ids"`
	IngredientFunctions []IngredientFunctionRef `json:"ingredient_functions"`
	Discontinued        bool                    `json:"discontinued"`
	ReplacementURL      string                  `json:"replacement_product_url,omitempty"`
	DetailsScraped      bool                    `json:"details_scraped"`
	LastCheckedAt       string                  `json:"last_checked_at,omitempty"`
	LastUpdatedAt       string                  `json:"last_updated_at,omitempty"`
}

// IngredientFunctionRef links one ingredient of a product to the functions
// the product's ingredient table declares for it.
type IngredientFunctionRef struct {
	IngredientID string   `json:"ingredient_id"`
	FunctionIDs  []string `json:"function_ids"`
}

// Ingredient is an ingredient page plus its registry cross-reference.
type Ingredient struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	URL                   string   `json:"url"`
	RatingTag             string   `json:"rating_tag,omitempty"`
	AlsoCalled            []string `json:"also_called"`
	Irritancy             string   `json:"irritancy,omitempty"`
	Comedogenicity        string   `json:"comedogenicity,omitempty"`
	DetailsText           string   `json:"details_text,omitempty"`
	CASNumbers            []string `json:"cas_numbers"`
	ECNumbers             []string `json:"ec_numbers"`
	IdentifiedIngredients []string `json:"identified_ingredients"`
	RegulationProvisions  []string `json:"regulation_provisions"`
	FunctionIDs           []string `json:"function_ids"`
	QuickFacts            []string `json:"quick_facts"`
	ProofReferences       []string `json:"proof_references"`
	LastCheckedAt         string   `json:"last_checked_at,omitempty"`
	LastUpdatedAt         string   `json:"last_updated_at,omitempty"`
}

// IngredientFunction is a declared function ("Emollient", "Solvent").
// Names are unique regardless of case.
type IngredientFunction struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// FreeTag is a hashtag-style highlight such as "#alcohol-free".
type FreeTag struct {
	ID      string `json:"id"`
	Tag     string `json:"tag"`
	Tooltip string `json:"tooltip,omitempty"`
}

// RegistryRecord holds the fields read from a registry detail view.
// A zero record means no match.
type RegistryRecord struct {
	CASNumbers            []string `json:"cas_numbers"`
	ECNumbers             []string `json:"ec_numbers"`
	IdentifiedIngredients []string `json:"identified_ingredients"`
	RegulationProvisions  []string `json:"regulation_provisions"`
	Functions             []string `json:"functions"`
}

// IsEmpty reports whether no field carries a value.
func (r RegistryRecord) IsEmpty() bool {
	return len(r.CASNumbers) == 0 && len(r.ECNumbers) == 0 &&
		len(r.IdentifiedIngredients) == 0 && len(r.RegulationProvisions) == 0 &&
		len(r.Functions) == 0
}

// Link is a name/URL pair taken from an anchor.
type Link struct {
	Name string
	URL  string
}

// IngredientRef is an ingredient mention on a product page. TooltipURL is the
// canonical ingredient link declared by the mention's tooltip, when present.
type IngredientRef struct {
	Name       string
	URL        string
	TooltipURL string
}

// FunctionRow is one row of a product's ingredient/function table.
type FunctionRow struct {
	Ingredient Link
	Functions  []Link
}

// HighlightEntry is a key or other ingredient highlight, optionally tied to a function.
type HighlightEntry struct {
	Ingredient Link
	Function   Link
}

// FreeTagRef is a hashtag found in the highlights section.
type FreeTagRef struct {
	Tag     string
	Tooltip string
}

// Highlights groups the three highlight collections of a product page.
type Highlights struct {
	FreeTags []FreeTagRef
	Key      []HighlightEntry
	Other    []HighlightEntry
}

// ProductDetails is everything extracted from a product detail page.
type ProductDetails struct {
	Name           string
	Description    string
	ImageURL       string
	Ingredients    []IngredientRef
	FunctionTable  []FunctionRow
	Highlights     Highlights
	Discontinued   bool
	ReplacementURL string
}

// IngredientDetails is everything extracted from an ingredient page.
type IngredientDetails struct {
	Name            string
	RatingTag       string
	AlsoCalled      []string
	WhatItDoes      []Link
	Irritancy       string
	Comedogenicity  string
	DetailsText     string
	QuickFacts      []string
	ProofReferences []string
}

// WorkloadSummary describes the pending work found in the store.
type WorkloadSummary struct {
	BrandsTotal            int  `json:"brands_total"`
	BrandsPending          int  `json:"brands_pending"`
	BrandsComplete         bool `json:"brands_complete"`
	BrandPagesRemaining    int  `json:"brand_pages_remaining"` // -1 when the total is not yet known
	ProductsTotal          int  `json:"products_total"`
	ProductsPendingDetails int  `json:"products_pending_details"`
	IngredientsTotal       int  `json:"ingredients_total"`
	FunctionsTotal         int  `json:"functions_total"`
	FreeTagsTotal          int  `json:"free_tags_total"`
}

// HasBrandWork reports whether brand discovery has not finished.
func (w WorkloadSummary) HasBrandWork() bool {
	return !w.BrandsComplete
}

// HasProductWork reports whether any brand still needs its product listing.
func (w WorkloadSummary) HasProductWork() bool {
	return w.BrandsPending > 0
}

// HasDetailWork reports whether any product still needs its detail page.
func (w WorkloadSummary) HasDetailWork() bool {
	return w.ProductsPendingDetails > 0
}

// HasWork reports whether any stage has work left.
func (w WorkloadSummary) HasWork() bool {
	return w.HasBrandWork() || w.HasProductWork() || w.HasDetailWork()
}
