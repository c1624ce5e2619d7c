package mcp

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/orchestrate"
	"github.com/Sriram-PR/inci-scraper/pkg/pipeline"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "inci.db")
	s, err := NewServer(context.Background(), &ServerConfig{AppConfig: cfg, Transport: "stdio", Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s
}

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (map[string]any, bool) {
	t.Helper()
	req := mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
	res, err := handler(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	if res.IsError {
		return map[string]any{"error": text.Text}, true
	}
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, false
}

// seedProduct stores one brand, two ingredients, a function, a free tag and
// a fully scraped product referencing them.
func seedProduct(t *testing.T, s *Server) string {
	t.Helper()
	ctx := context.Background()
	h, err := s.store.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	brandID, err := h.UpsertBrand(ctx, "Acme", "https://incidecoder.com/brands/acme")
	require.NoError(t, err)
	glycerin, err := h.UpsertIngredient(ctx, models.Ingredient{Name: "Glycerin", URL: "https://incidecoder.com/ingredients/glycerin"})
	require.NoError(t, err)
	niacinamide, err := h.UpsertIngredient(ctx, models.Ingredient{Name: "Niacinamide", URL: "https://incidecoder.com/ingredients/niacinamide"})
	require.NoError(t, err)
	humectant, err := h.EnsureFunction(ctx, "Humectant", "")
	require.NoError(t, err)
	vegan, err := h.UpsertFreeTag(ctx, "#vegan", "")
	require.NoError(t, err)

	productURL := "https://incidecoder.com/products/acme-serum"
	_, err = h.UpsertProductListing(ctx, brandID, "Acme Serum", productURL)
	require.NoError(t, err)
	id, err := h.UpsertProductDetails(ctx, models.Product{
		BrandID:             brandID,
		Name:                "Acme Serum",
		URL:                 productURL,
		IngredientIDs:       []string{glycerin, niacinamide},
		KeyIngredientIDs:    []string{niacinamide},
		FreeTagIDs:          []string{vegan},
		IngredientFunctions: []models.IngredientFunctionRef{{IngredientID: glycerin, FunctionIDs: []string{humectant}}},
		Discontinued:        true,
		ReplacementURL:      "https://incidecoder.com/products/acme-serum-2",
	})
	require.NoError(t, err)
	return id
}

func TestSearchIngredients(t *testing.T) {
	all := []storage.IngredientSummary{
		{ID: "1", Name: "Niacinamide"},
		{ID: "2", Name: "Glycerin"},
		{ID: "3", Name: "Niacin"},
		{ID: "4", Name: "Sodium Hyaluronate"},
	}

	t.Run("substring matches score one", func(t *testing.T) {
		got := searchIngredients(all, "NIACIN", 0.8)
		require.Len(t, got, 2)
		assert.Equal(t, "Niacin", got[0].Name)
		assert.Equal(t, "Niacinamide", got[1].Name)
		assert.Equal(t, 1.0, got[0].Score)
		assert.Equal(t, 1.0, got[1].Score)
	})

	t.Run("fuzzy match below substring", func(t *testing.T) {
		got := searchIngredients(all, "glycerine", 0.8)
		require.Len(t, got, 1)
		assert.Equal(t, "Glycerin", got[0].Name)
		assert.Less(t, got[0].Score, 1.0)
	})

	t.Run("nothing above threshold", func(t *testing.T) {
		got := searchIngredients(all, "zzz", 0.8)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestHandleSearchIngredients(t *testing.T) {
	s := newTestServer(t)
	seedProduct(t, s)

	out, isErr := callTool(t, s.handleSearchIngredients, map[string]any{"query": "glyc", "max_results": 5})
	require.False(t, isErr)
	assert.Equal(t, float64(1), out["total_matches"])
	results := out["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "Glycerin", results[0].(map[string]any)["name"])

	out, isErr = callTool(t, s.handleSearchIngredients, map[string]any{})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "query")
}

func TestHandleGetProduct(t *testing.T) {
	s := newTestServer(t)
	id := seedProduct(t, s)

	t.Run("by id", func(t *testing.T) {
		out, isErr := callTool(t, s.handleGetProduct, map[string]any{"id": id})
		require.False(t, isErr)
		assert.Equal(t, "Acme Serum", out["name"])
		assert.Equal(t, "Acme", out["brand"])
		assert.Equal(t, []any{"Glycerin", "Niacinamide"}, out["ingredients"])
		assert.Equal(t, []any{"Niacinamide"}, out["key_ingredients"])
		assert.Equal(t, []any{"#vegan"}, out["free_tags"])
		assert.Equal(t, true, out["discontinued"])
		assert.Equal(t, "https://incidecoder.com/products/acme-serum-2", out["replacement_url"])

		rows := out["ingredient_functions"].([]any)
		require.Len(t, rows, 1)
		row := rows[0].(map[string]any)
		assert.Equal(t, "Glycerin", row["ingredient"])
		assert.Equal(t, []any{"Humectant"}, row["functions"])
	})

	t.Run("by url", func(t *testing.T) {
		out, isErr := callTool(t, s.handleGetProduct, map[string]any{"url": "https://incidecoder.com/products/acme-serum"})
		require.False(t, isErr)
		assert.Equal(t, id, out["id"])
	})

	t.Run("missing", func(t *testing.T) {
		_, isErr := callTool(t, s.handleGetProduct, map[string]any{"id": "nope"})
		assert.True(t, isErr)
		_, isErr = callTool(t, s.handleGetProduct, map[string]any{})
		assert.True(t, isErr)
	})
}

func TestHandleWorkloadSummary(t *testing.T) {
	s := newTestServer(t)
	seedProduct(t, s)

	out, isErr := callTool(t, s.handleWorkloadSummary, nil)
	require.False(t, isErr)
	summary := out["summary"].(map[string]any)
	assert.Equal(t, float64(1), summary["brands_total"])
	assert.Equal(t, float64(1), summary["products_total"])
	assert.Equal(t, float64(2), summary["ingredients_total"])
	assert.Equal(t, true, out["has_brand_work"])
	assert.Equal(t, false, out["run_in_progress"])
}

func TestRunLifecycle(t *testing.T) {
	s := newTestServer(t)
	release := make(chan struct{})
	gotOpts := make(chan orchestrate.RunOptions, 1)
	s.run = func(ctx context.Context, opts orchestrate.RunOptions, progress func(orchestrate.Progress)) orchestrate.RunSummary {
		gotOpts <- opts
		progress(orchestrate.Progress{
			CurrentStage: models.StageProducts,
			Completed:    []pipeline.StageResult{{Stage: models.StageBrands, Processed: 3, Failed: 1}},
			IsRunning:    true,
		})
		select {
		case <-release:
			return orchestrate.RunSummary{}
		case <-ctx.Done():
			return orchestrate.RunSummary{Err: ctx.Err()}
		}
	}

	out, isErr := callTool(t, s.handleStartRun, map[string]any{"stage": "products", "rescan": true})
	require.False(t, isErr)
	assert.Equal(t, "started", out["status"])
	jobID := out["job_id"].(string)

	opts := <-gotOpts
	assert.Equal(t, []models.StageName{models.StageProducts}, opts.Stages)
	assert.True(t, opts.Rescan)

	out, _ = callTool(t, s.handleStartRun, nil)
	assert.Equal(t, "already_running", out["status"])
	assert.Equal(t, jobID, out["job_id"])

	require.Eventually(t, func() bool {
		job := s.jobs.GetJob(jobID)
		return job.Processed == 3 && job.CurrentStage == string(models.StageProducts)
	}, time.Second, 5*time.Millisecond)

	out, isErr = callTool(t, s.handleGetRunStatus, nil)
	require.False(t, isErr)
	assert.Equal(t, jobID, out["job_id"])
	assert.Equal(t, "running", out["status"])
	assert.Equal(t, float64(1), out["units_failed"])

	close(release)
	require.Eventually(t, func() bool {
		return s.jobs.GetJob(jobID).Status == JobStatusCompleted
	}, time.Second, 5*time.Millisecond)

	out, isErr = callTool(t, s.handleGetRunStatus, map[string]any{"job_id": jobID})
	require.False(t, isErr)
	assert.Equal(t, "completed", out["status"])
	assert.Contains(t, out, "completed_at")

	_, isErr = callTool(t, s.handleGetRunStatus, nil)
	assert.True(t, isErr)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t)
	s.run = func(ctx context.Context, _ orchestrate.RunOptions, _ func(orchestrate.Progress)) orchestrate.RunSummary {
		<-ctx.Done()
		return orchestrate.RunSummary{Err: ctx.Err()}
	}

	out, _ := callTool(t, s.handleStartRun, nil)
	jobID := out["job_id"].(string)

	out, isErr := callTool(t, s.handleCancelRun, map[string]any{"job_id": jobID})
	require.False(t, isErr)
	assert.Equal(t, "cancelled", out["status"])
	assert.Equal(t, JobStatusCancelled, s.jobs.GetJob(jobID).Status)

	_, isErr = callTool(t, s.handleCancelRun, map[string]any{"job_id": jobID})
	assert.True(t, isErr)
}

func TestFailedRun(t *testing.T) {
	s := newTestServer(t)
	s.run = func(context.Context, orchestrate.RunOptions, func(orchestrate.Progress)) orchestrate.RunSummary {
		return orchestrate.RunSummary{Err: assert.AnError}
	}

	out, _ := callTool(t, s.handleStartRun, map[string]any{"stage": "details"})
	jobID := out["job_id"].(string)
	require.Eventually(t, func() bool {
		return s.jobs.GetJob(jobID).Status == JobStatusFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, assert.AnError.Error(), s.jobs.GetJob(jobID).ErrorMessage)
}

func TestStartRunInvalidStage(t *testing.T) {
	s := newTestServer(t)
	out, isErr := callTool(t, s.handleStartRun, map[string]any{"stage": "everything"})
	assert.True(t, isErr)
	assert.Contains(t, out["error"], "unknown stage")
	assert.Nil(t, s.jobs.ActiveJob())
}
