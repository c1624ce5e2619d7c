package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))
	return cfgPath
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
base_url: "https://incidecoder.com"
db_path: "./out/inci.db"
max_workers: 4
min_delay: 250ms
resolver:
  enabled: false
watch:
  interval: 7d
`)

	cfg, err := loadConfig(cfgPath)

	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, "./out/inci.db", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.MinDelay)
	assert.False(t, cfg.Resolver.IsEnabled())
	assert.Equal(t, "7d", cfg.Watch.Interval)
}

func TestLoadConfig_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	_, err = cfg.Validate()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultBaseURL, cfg.BaseURL)
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/config.yaml")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeConfig(t, "{{invalid yaml")

	_, err := loadConfig(cfgPath)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestDoValidate(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantCode   int
		wantStdout string
		wantStderr string
	}{
		{
			name:       "valid",
			content:    "base_url: \"https://incidecoder.com/\"\n",
			wantCode:   0,
			wantStdout: "Configuration valid",
		},
		{
			name:       "warning only",
			content:    "min_delay: 2s\nmax_delay: 1s\n",
			wantCode:   0,
			wantStdout: "WARN: min_delay",
		},
		{
			name:       "bad base url",
			content:    "base_url: \"ftp://incidecoder.com\"\n",
			wantCode:   1,
			wantStderr: "ERROR",
		},
		{
			name:       "bad watch interval",
			content:    "watch:\n  interval: soon\n",
			wantCode:   1,
			wantStderr: "watch.interval",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := doValidate(writeConfig(t, tt.content), &stdout, &stderr)
			assert.Equal(t, tt.wantCode, code)
			assert.Contains(t, stdout.String(), tt.wantStdout)
			assert.Contains(t, stderr.String(), tt.wantStderr)
		})
	}
}

func TestDoValidate_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	exitCode := doValidate("/nonexistent.yaml", &stdout, &stderr)

	assert.Equal(t, 1, exitCode)
	assert.Contains(t, stderr.String(), "Error")
}

func TestApplyScrapeOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.MaxBrands = 7
	applyScrapeOverrides(cfg, scrapeFlags{dbPath: "x.db", maxWorkers: 3, maxPages: 2, skipImages: true})

	assert.Equal(t, "x.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.MaxWorkers)
	assert.Equal(t, 2, cfg.MaxPages)
	assert.Equal(t, 7, cfg.MaxBrands)
	assert.True(t, cfg.SkipImages)
}

func TestDoScrape_UnknownStage(t *testing.T) {
	code := doScrape(scrapeFlags{stage: "everything", logLevel: "info"}, io.Discard)
	assert.Equal(t, 1, code)
}

func TestDoScrapeThenStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<html><body><p>Nothing here.</p></body></html>")
	}))
	defer srv.Close()

	dbPath := filepath.Join(t.TempDir(), "inci.db")
	cfgPath := writeConfig(t, fmt.Sprintf(`
base_url: %q
db_path: %q
min_delay: 1ms
max_delay: 5ms
skip_images: true
resolver:
  enabled: false
`, srv.URL, dbPath))

	code := doScrape(scrapeFlags{configFile: cfgPath, stage: "all", logLevel: "error"}, io.Discard)
	require.Equal(t, 0, code)

	var stdout, stderr bytes.Buffer
	code = doStatus(cfgPath, "", &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	out := stdout.String()
	assert.Contains(t, out, dbPath)
	assert.Contains(t, out, "complete: true")
	assert.Contains(t, out, "Products:     0")
	assert.Contains(t, out, "Last run completed:")
}

func TestDoStatus_ConfigNotFound(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := doStatus("/nonexistent.yaml", "", &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "Error")
}

func TestDoMcpServer_BadInput(t *testing.T) {
	var stderr bytes.Buffer
	assert.Equal(t, 1, doMcpServer("", "carrier-pigeon", 0, "info", &stderr))
	assert.Contains(t, stderr.String(), "Unknown transport")

	stderr.Reset()
	assert.Equal(t, 1, doMcpServer("", "stdio", 0, "loud", &stderr))
	assert.Contains(t, stderr.String(), "Invalid log level")
}

func TestPrintUsageTo(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)

	out := buf.String()
	for _, cmd := range []string{"scrape", "status", "watch", "validate", "mcp-server", "version"} {
		assert.Contains(t, out, cmd)
	}
}
