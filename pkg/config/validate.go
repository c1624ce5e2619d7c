package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// BaseURL
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if err := validateHTTPURL(c.BaseURL); err != nil {
		return warnings, fmt.Errorf("%w: base_url: %v", utils.ErrConfigValidation, err)
	}
	for i, alt := range c.AlternateBaseURLs {
		alt = strings.TrimRight(alt, "/")
		if err := validateHTTPURL(alt); err != nil {
			return warnings, fmt.Errorf("%w: alternate_base_urls[%d]: %v", utils.ErrConfigValidation, i, err)
		}
		c.AlternateBaseURLs[i] = alt
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	// Adaptive delay bounds
	if c.MinDelay <= 0 {
		c.MinDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Second
	}
	if c.MinDelay > c.MaxDelay {
		warnings = append(warnings, fmt.Sprintf(
			"min_delay (%v) > max_delay (%v), swapping", c.MinDelay, c.MaxDelay))
		c.MinDelay, c.MaxDelay = c.MaxDelay, c.MinDelay
	}
	if c.AdaptiveFactor == 0 {
		c.AdaptiveFactor = 1.5
	} else if c.AdaptiveFactor <= 1 {
		warnings = append(warnings, fmt.Sprintf(
			"adaptive_factor must be > 1 (got %v), defaulting to 1.5", c.AdaptiveFactor))
		c.AdaptiveFactor = 1.5
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	if c.MaxRequestsPerHost <= 0 {
		c.MaxRequestsPerHost = 2
	}

	// Storage locations
	if c.DBPath == "" {
		warnings = append(warnings, "db_path is empty, defaulting to './data/incidecoder.db'")
		c.DBPath = "./data/incidecoder.db"
	}
	if c.CacheDir == "" {
		c.CacheDir = "./data/registry_cache"
	}
	if c.ImageDir == "" {
		c.ImageDir = "./data/images"
	}

	// Workload shaping
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 1
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	for name, v := range map[string]*int{
		"max_pages":              &c.MaxPages,
		"max_brands":             &c.MaxBrands,
		"max_products_per_brand": &c.MaxProductsPerBrand,
	} {
		if *v < 0 {
			warnings = append(warnings, name+" cannot be negative, setting to 0 (unlimited)")
			*v = 0
		}
	}

	c.validateHTTPClientSettings()
	c.Resolver.applyDefaults()

	if c.Watch.Interval == "" {
		c.Watch.Interval = "7d"
	}
	if c.Watch.StateFile == "" {
		c.Watch.StateFile = "./data/watch_state.yaml"
	}

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 30 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func (r *ResolverConfig) applyDefaults() {
	if r.SearchURL == "" {
		r.SearchURL = DefaultRegistryURL + "/search"
	}
	if r.SearchInput == "" {
		r.SearchInput = `input[name="search_term"]`
	}
	if r.SubmitButton == "" {
		r.SubmitButton = `button[type="submit"]`
	}
	if r.ResultsTable == "" {
		r.ResultsTable = "table"
	}
	if r.WaitTimeout <= 0 {
		r.WaitTimeout = 10 * time.Second
	}
	if r.CacheTTL <= 0 {
		r.CacheTTL = 30 * 24 * time.Hour
	}
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
