package config

import "time"

const (
	DefaultBaseURL     = "https://incidecoder.com"
	DefaultRegistryURL = "https://ec.europa.eu/growth/tools-databases/cosing"
	DefaultUserAgent   = "INCIScraper/1.0 (+https://incidecoder.com)"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	BaseURL            string        `yaml:"base_url"`
	AlternateBaseURLs  []string      `yaml:"alternate_base_urls,omitempty"`
	UserAgent          string        `yaml:"user_agent,omitempty"`
	MinDelay           time.Duration `yaml:"min_delay,omitempty"`
	MaxDelay           time.Duration `yaml:"max_delay,omitempty"`
	AdaptiveFactor     float64       `yaml:"adaptive_factor,omitempty"` // >1; delay is divided by it to speed up, multiplied to slow down
	MaxRetries         int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay  time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration `yaml:"max_retry_delay,omitempty"`
	MaxRequestsPerHost int           `yaml:"max_requests_per_host,omitempty"`
	RespectRobotsTxt   bool          `yaml:"respect_robots_txt,omitempty"`

	DBPath     string `yaml:"db_path"`
	CacheDir   string `yaml:"cache_dir,omitempty"` // Badger directory for registry lookups
	ImageDir   string `yaml:"image_dir,omitempty"`
	SkipImages bool   `yaml:"skip_images,omitempty"`

	MaxWorkers          int  `yaml:"max_workers,omitempty"`
	BatchSize           int  `yaml:"batch_size,omitempty"`
	MaxPages            int  `yaml:"max_pages,omitempty"` // Brand listing pages per run, 0 = unlimited
	MaxBrands           int  `yaml:"max_brands,omitempty"`
	MaxProductsPerBrand int  `yaml:"max_products_per_brand,omitempty"`
	SkipPageDiscovery   bool `yaml:"skip_page_discovery,omitempty"` // Do not count brand pages up front

	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Resolver           ResolverConfig   `yaml:"resolver,omitempty"`
	Watch              WatchConfig      `yaml:"watch,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// ResolverConfig configures the registry cross-reference lookups
type ResolverConfig struct {
	Enabled        *bool         `yaml:"enabled,omitempty"` // nil means enabled
	SearchURL      string        `yaml:"search_url,omitempty"`
	SearchInput    string        `yaml:"search_input,omitempty"`
	SubmitButton   string        `yaml:"submit_button,omitempty"`
	ResultsTable   string        `yaml:"results_table,omitempty"`
	WaitTimeout    time.Duration `yaml:"wait_timeout,omitempty"`
	Headless       *bool         `yaml:"headless,omitempty"`
	CacheTTL       time.Duration `yaml:"cache_ttl,omitempty"`
	ChromeExecPath string        `yaml:"chrome_exec_path,omitempty"`
}

// WatchConfig configures periodic rescan runs
type WatchConfig struct {
	Interval  string `yaml:"interval,omitempty"` // e.g. "24h", "7d"
	StateFile string `yaml:"state_file,omitempty"`
}

// IsEnabled reports whether registry lookups should run
func (r ResolverConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// IsHeadless reports whether the browser should run without a window
func (r ResolverConfig) IsHeadless() bool {
	return r.Headless == nil || *r.Headless
}

// Default returns a configuration with every default applied.
func Default() *AppConfig {
	cfg := &AppConfig{}
	_, _ = cfg.Validate()
	return cfg
}
