package storage

import (
	"context"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
)

// MetadataStore handles checkpoint and marker keys
type MetadataStore interface {
	GetMetadata(ctx context.Context, key string) (string, bool, error)
	GetIntMetadata(ctx context.Context, key string, def int) (int, error)
	SetMetadata(ctx context.Context, key, value string) error
	SetIntMetadata(ctx context.Context, key string, value int) error
	DeleteMetadata(ctx context.Context, key string) error
	CountMetadataPrefix(ctx context.Context, prefix string) (int, error)
}

// BrandStore is what brand discovery needs
type BrandStore interface {
	MetadataStore
	InsertBrands(ctx context.Context, links []models.Link) ([]string, error)
	CountBrands(ctx context.Context) (int, error)
	BrandByURL(ctx context.Context, url string) (*models.Brand, error)
}

// ListingStore is what product discovery needs
type ListingStore interface {
	MetadataStore
	BrandsForProducts(ctx context.Context, rescan bool, limit int) ([]models.Brand, error)
	ResetEmptyBrands(ctx context.Context) (int, error)
	UpsertProductListing(ctx context.Context, brandID, name, url string) (string, error)
	SetBrandProductsScraped(ctx context.Context, brandID string, done bool) error
	CountBrandProducts(ctx context.Context, brandID string) (int, error)
}

// IngredientStore resolves and records ingredients and their functions
type IngredientStore interface {
	IngredientIDByURL(ctx context.Context, url string) (string, bool, error)
	IngredientIDByName(ctx context.Context, name string) (string, bool, error)
	IngredientByURL(ctx context.Context, url string) (*models.Ingredient, error)
	TouchIngredient(ctx context.Context, id string) error
	UpsertIngredient(ctx context.Context, ing models.Ingredient) (string, error)
	EnsureFunction(ctx context.Context, name, url string) (string, error)
}

// DetailStore is what product detail resolution needs
type DetailStore interface {
	IngredientStore
	ProductsForDetails(ctx context.Context, rescan bool, limit int) ([]models.Product, error)
	UpsertFreeTag(ctx context.Context, tag, tooltip string) (string, error)
	UpsertProductDetails(ctx context.Context, p models.Product) (string, error)
}

// ReadStore serves read-only queries
type ReadStore interface {
	WorkloadSummary(ctx context.Context) (models.WorkloadSummary, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ProductByURL(ctx context.Context, url string) (*models.Product, error)
	GetIngredient(ctx context.Context, id string) (*models.Ingredient, error)
	ListIngredients(ctx context.Context) ([]IngredientSummary, error)
	IngredientNames(ctx context.Context, ids []string) (map[string]string, error)
	FunctionNames(ctx context.Context, ids []string) (map[string]string, error)
	FreeTagNames(ctx context.Context, ids []string) (map[string]string, error)
}

// HandleSource hands out per-worker handles
type HandleSource interface {
	Acquire(ctx context.Context) (*Handle, error)
}

var (
	_ BrandStore   = (*Handle)(nil)
	_ ListingStore = (*Handle)(nil)
	_ DetailStore  = (*Handle)(nil)
	_ ReadStore    = (*Handle)(nil)
	_ HandleSource = (*Store)(nil)
)
