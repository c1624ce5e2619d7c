package pipeline

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/fetch"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// site serves canned pages keyed by request URI. Unknown URIs are 404 and
// URIs listed in failing answer 500.
type site struct {
	mu      sync.Mutex
	pages   map[string]string
	failing map[string]bool
	hits    map[string]int
	srv     *httptest.Server
}

func newSite(t *testing.T) *site {
	t.Helper()
	s := &site{pages: map[string]string{}, failing: map[string]bool{}, hits: map[string]int{}}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		uri := r.URL.RequestURI()
		s.hits[uri]++
		body, ok := s.pages[uri]
		fail := s.failing[uri]
		s.mu.Unlock()
		switch {
		case fail:
			w.WriteHeader(http.StatusInternalServerError)
		case !ok:
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, body)
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) set(uri, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[uri] = body
	delete(s.failing, uri)
}

func (s *site) fail(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[uri] = true
}

func (s *site) hitCount(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[uri]
}

func (s *site) client() *fetch.Client {
	cfg := config.Default()
	cfg.BaseURL = s.srv.URL
	cfg.MinDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.MaxRetries = 0
	cfg.RespectRobotsTxt = false
	return fetch.New(cfg, testLogger())
}

func (s *site) options() Options {
	return Options{BaseURL: s.srv.URL, Workers: 1}
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "pipeline.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestHandle(t *testing.T, st *storage.Store) *storage.Handle {
	t.Helper()
	h, err := st.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
	return h
}

func metadata(t *testing.T, h *storage.Handle, key string) (string, bool) {
	t.Helper()
	v, ok, err := h.GetMetadata(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

type fakeResolver struct {
	mu      sync.Mutex
	records map[string]models.RegistryRecord
	broken  bool
	calls   []string
}

func (f *fakeResolver) Resolve(ctx context.Context, name string) (models.RegistryRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.broken {
		return models.RegistryRecord{}, false
	}
	return f.records[name], true
}

type fakeMedia struct {
	mu     sync.Mutex
	stored map[string]string
}

func (f *fakeMedia) StoreImage(ctx context.Context, sourceURL, entityID string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = map[string]string{}
	}
	p := "images/" + entityID + "/cover.jpg"
	f.stored[sourceURL] = p
	return p, true
}
