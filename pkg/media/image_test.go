package media

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/inci-scraper/pkg/fetch"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

type fakeGetter struct {
	responses map[string]*fetch.Response
	calls     int
}

func (f *fakeGetter) Get(ctx context.Context, rawURL string) (*fetch.Response, error) {
	f.calls++
	resp, ok := f.responses[rawURL]
	if !ok {
		return nil, utils.WrapErrorf(utils.ErrFetchFailed, nil, "%s", rawURL)
	}
	return resp, nil
}

func TestStoreImage(t *testing.T) {
	dir := t.TempDir()
	body := []byte("\x89PNG fake image bytes")
	getter := &fakeGetter{responses: map[string]*fetch.Response{
		"https://cdn.test/a/cream.jpg?w=400": {URL: "https://cdn.test/a/cream.jpg?w=400", StatusCode: 200, ContentType: "image/png", Body: body},
	}}
	s := New(dir, getter, testLogger())

	p, ok := s.StoreImage(context.Background(), "https://cdn.test/a/cream.jpg?w=400", "prod-1")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(p, filepath.ToSlash(filepath.Join(dir, "prod-1", "cover_"))))
	assert.Equal(t, ".png", filepath.Ext(p))

	got, err := os.ReadFile(filepath.FromSlash(p))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	again, ok := s.StoreImage(context.Background(), "https://cdn.test/a/cream.jpg?w=400", "prod-1")
	require.True(t, ok)
	assert.Equal(t, p, again)

	entries, err := os.ReadDir(filepath.Join(dir, "prod-1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStoreImage_Failures(t *testing.T) {
	getter := &fakeGetter{responses: map[string]*fetch.Response{
		"https://cdn.test/page":  {ContentType: "text/html; charset=utf-8", Body: []byte("<html>")},
		"https://cdn.test/empty": {ContentType: "image/jpeg"},
	}}
	s := New(t.TempDir(), getter, testLogger())
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		id   string
	}{
		{"EmptyURL", "", "p"},
		{"EmptyEntity", "https://cdn.test/page", ""},
		{"DataURI", "data:image/png;base64,AAAA", "p"},
		{"FetchFailed", "https://cdn.test/missing.jpg", "p"},
		{"NotAnImage", "https://cdn.test/page", "p"},
		{"EmptyBody", "https://cdn.test/empty", "p"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := s.StoreImage(ctx, tt.url, tt.id)
			assert.False(t, ok)
			assert.Empty(t, p)
		})
	}
}

func TestStoreImage_TooLarge(t *testing.T) {
	getter := &fakeGetter{responses: map[string]*fetch.Response{
		"https://cdn.test/big.jpg": {ContentType: "image/jpeg", Body: make([]byte, 64)},
	}}
	s := New(t.TempDir(), getter, testLogger())
	s.maxBytes = 32

	_, ok := s.StoreImage(context.Background(), "https://cdn.test/big.jpg", "p")
	assert.False(t, ok)
}

func TestExtension(t *testing.T) {
	mustURL := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	}
	tests := []struct {
		url, contentType, want string
		wantErr                bool
	}{
		{"https://x/a.png", "image/jpeg", ".jpg", false},
		{"https://x/a.WEBP", "", ".webp", false},
		{"https://x/a", "", ".jpg", false},
		{"https://x/a.bmp", "image/bmp", ".bmp", false},
		{"https://x/a", "invalid;;", ".jpg", false},
		{"https://x/a.jpg", "application/json", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url+"|"+tt.contentType, func(t *testing.T) {
			got, err := extension(mustURL(tt.url), tt.contentType)
			if tt.wantErr {
				assert.True(t, errors.Is(err, utils.ErrParsing))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
