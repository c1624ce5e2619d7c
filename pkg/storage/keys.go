package storage

// Metadata keys
const (
	KeyBrandsNextOffset   = "brands_next_offset"
	KeyBrandsTotalOffsets = "brands_total_offsets"
	KeyBrandsComplete     = "brands_complete"
	KeyBrandsDiscovery    = "brands_discovery_state"
	KeyLastRunStartedAt   = "last_run_started_at"
	KeyLastRunCompletedAt = "last_run_completed_at"

	brandProductsOffsetPrefix = "brand_products_next_offset:"
	brandEmptyPrefix          = "brand_empty_products:"
)

// BrandProductsOffsetKey is the resume offset of a brand's product listing.
func BrandProductsOffsetKey(brandID string) string {
	return brandProductsOffsetPrefix + brandID
}

// BrandEmptyKey marks a brand whose listing was exhausted without a product.
func BrandEmptyKey(brandID string) string {
	return brandEmptyPrefix + brandID
}
