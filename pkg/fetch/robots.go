package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"
)

// RobotsHandler fetches, caches and evaluates robots.txt per host
type RobotsHandler struct {
	fetcher   *Fetcher
	userAgent string
	cache     map[string]*robotstxt.RobotsData // host -> parsed data, nil when unavailable
	mu        sync.Mutex
	log       *logrus.Entry
}

// NewRobotsHandler creates a RobotsHandler
func NewRobotsHandler(fetcher *Fetcher, userAgent string, log *logrus.Entry) *RobotsHandler {
	return &RobotsHandler{
		fetcher:   fetcher,
		userAgent: userAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
		log:       log,
	}
}

// Allowed reports whether the configured agent may fetch target.
// Hosts whose robots.txt cannot be fetched or parsed allow everything.
func (rh *RobotsHandler) Allowed(ctx context.Context, target *url.URL) bool {
	data := rh.robotsFor(ctx, target)
	if data == nil {
		return true
	}
	return data.TestAgent(target.RequestURI(), rh.userAgent)
}

func (rh *RobotsHandler) robotsFor(ctx context.Context, target *url.URL) *robotstxt.RobotsData {
	host := target.Host
	rh.mu.Lock()
	data, found := rh.cache[host]
	rh.mu.Unlock()
	if found {
		return data
	}

	robotsURL := (&url.URL{Scheme: target.Scheme, Host: host, Path: "/robots.txt"}).String()
	robotsLog := rh.log.WithField("robots_url", robotsURL)

	data = rh.fetch(ctx, robotsURL, robotsLog)
	if data == nil && ctx.Err() != nil {
		// Do not cache a cancellation as "no robots.txt"
		return nil
	}
	rh.mu.Lock()
	rh.cache[host] = data
	rh.mu.Unlock()
	return data
}

func (rh *RobotsHandler) fetch(ctx context.Context, robotsURL string, robotsLog *logrus.Entry) *robotstxt.RobotsData {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		robotsLog.Errorf("Error creating request: %v", err)
		return nil
	}
	req.Header.Set("User-Agent", rh.userAgent)

	resp, err := rh.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		drain(resp)
		robotsLog.Debugf("robots.txt unavailable: %v", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		robotsLog.Warnf("Error reading robots.txt: %v", err)
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		robotsLog.Warnf("Error parsing robots.txt: %v", err)
		return nil
	}
	robotsLog.Info("Fetched and parsed robots.txt")
	return data
}
