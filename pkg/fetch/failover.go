package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

const maxBodyBytes = 20 << 20

// Response is a fully read 2xx response.
type Response struct {
	URL         string // candidate that answered
	StatusCode  int
	ContentType string
	Body        []byte
}

type hostRef struct {
	scheme string
	host   string
}

// Client issues GET requests through the adaptive limiter and fails over
// across the primary host and its alternates. It is safe for concurrent use.
type Client struct {
	fetcher   *Fetcher
	limiter   *AdaptiveLimiter
	hosts     *HostSemaphorePool
	robots    *RobotsHandler // nil when robots.txt is ignored
	known     []hostRef      // primary first, then alternates, then www variants
	userAgent string
	log       *logrus.Entry
}

// ClientOptions wires the collaborators of a Client.
type ClientOptions struct {
	Fetcher *Fetcher
	Limiter *AdaptiveLimiter
	Hosts   *HostSemaphorePool
	Robots  *RobotsHandler
}

// NewFailoverClient builds a Client for cfg's base and alternate URLs.
func NewFailoverClient(cfg *config.AppConfig, opts ClientOptions, log *logrus.Entry) *Client {
	c := &Client{
		fetcher:   opts.Fetcher,
		limiter:   opts.Limiter,
		hosts:     opts.Hosts,
		robots:    opts.Robots,
		userAgent: cfg.UserAgent,
		log:       log,
	}
	for _, raw := range append([]string{cfg.BaseURL}, cfg.AlternateBaseURLs...) {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			c.addHost(hostRef{scheme: u.Scheme, host: u.Host})
		}
	}
	for _, h := range append([]hostRef(nil), c.known...) {
		if strings.HasPrefix(h.host, "www.") {
			c.addHost(hostRef{scheme: h.scheme, host: strings.TrimPrefix(h.host, "www.")})
		} else if !isIPOrLocal(h.host) {
			c.addHost(hostRef{scheme: h.scheme, host: "www." + h.host})
		}
	}
	return c
}

// New assembles the full network stack from configuration.
func New(cfg *config.AppConfig, log *logrus.Entry) *Client {
	httpClient := NewClient(cfg.HTTPClientSettings, log)
	fetcher := NewFetcher(httpClient, RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialRetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
	}, log.WithField("component", "fetcher"))

	var robots *RobotsHandler
	if cfg.RespectRobotsTxt {
		robots = NewRobotsHandler(fetcher, cfg.UserAgent, log.WithField("component", "robots"))
	}
	return NewFailoverClient(cfg, ClientOptions{
		Fetcher: fetcher,
		Limiter: NewAdaptiveLimiter(cfg.MinDelay, cfg.MaxDelay, cfg.AdaptiveFactor, log.WithField("component", "limiter")),
		Hosts:   NewHostSemaphorePool(cfg.MaxRequestsPerHost, log.WithField("component", "hostsem")),
		Robots:  robots,
	}, log.WithField("component", "client"))
}

func (c *Client) addHost(h hostRef) {
	for _, k := range c.known {
		if k.host == h.host {
			return
		}
	}
	c.known = append(c.known, h)
}

// Limiter exposes the shared adaptive limiter.
func (c *Client) Limiter() *AdaptiveLimiter {
	return c.limiter
}

// Candidates lists rawURL followed by the same path on every other known
// host. URLs on unknown hosts have no alternates.
func (c *Client) Candidates(rawURL string) []string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return []string{rawURL}
	}
	ownHost := false
	for _, h := range c.known {
		if h.host == u.Host {
			ownHost = true
			break
		}
	}
	out := []string{rawURL}
	if !ownHost {
		return out
	}
	for _, h := range c.known {
		if h.host == u.Host {
			continue
		}
		alt := *u
		alt.Scheme = h.scheme
		alt.Host = h.host
		out = append(out, alt.String())
	}
	return out
}

// Get fetches rawURL, trying each candidate in order until one returns 2xx.
// When every candidate fails the limiter records a failure and the returned
// error wraps utils.ErrFetchFailed; callers skip the unit and move on.
// Context cancellation is returned as-is.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	var errs []error
	for _, candidate := range c.Candidates(rawURL) {
		resp, err := c.try(ctx, candidate)
		if err == nil {
			c.limiter.RecordSuccess()
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
	}

	c.limiter.RecordFailure()
	c.log.WithFields(logrus.Fields{
		"url":        rawURL,
		"candidates": len(errs),
		"category":   utils.CategorizeError(errors.Join(errs...)),
	}).Warn("Fetch failed on every host")
	return nil, fmt.Errorf("%w: %s: %w", utils.ErrFetchFailed, rawURL, errors.Join(errs...))
}

func (c *Client) try(ctx context.Context, candidate string) (*Response, error) {
	u, err := url.Parse(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: URL %q: %v", utils.ErrParsing, candidate, err)
	}
	if c.robots != nil && !c.robots.Allowed(ctx, u) {
		return nil, utils.ErrRobotsDisallowed
	}

	if err := c.hosts.Acquire(ctx, u.Host); err != nil {
		return nil, err
	}
	defer c.hosts.Release(u.Host)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")

	resp, err := c.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		drain(resp)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	return &Response{
		URL:         candidate,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func isIPOrLocal(host string) bool {
	h := host
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	if h == "localhost" || strings.HasPrefix(h, "[") {
		return true
	}
	return strings.Trim(h, "0123456789.") == ""
}
