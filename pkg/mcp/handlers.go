package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/orchestrate"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
)

const (
	defaultMaxResults = 10
	maxMaxResults     = 100
	defaultMinScore   = 0.8
)

// handleWorkloadSummary handles the workload_summary tool
func (s *Server) handleWorkloadSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h, err := s.store.Acquire(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("database unavailable: %v", err)), nil
	}
	defer h.Release()

	w, err := h.WorkloadSummary(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read workload: %v", err)), nil
	}
	result := map[string]interface{}{
		"summary":            w,
		"has_brand_work":     w.HasBrandWork(),
		"has_product_work":   w.HasProductWork(),
		"has_detail_work":    w.HasDetailWork(),
		"db_path":            s.cfg.AppConfig.DBPath,
		"run_in_progress":    s.jobs.ActiveJob() != nil,
		"last_run_started":   "",
		"last_run_completed": "",
	}
	for field, key := range map[string]string{
		"last_run_started":   storage.KeyLastRunStartedAt,
		"last_run_completed": storage.KeyLastRunCompletedAt,
	} {
		if v, ok, err := h.GetMetadata(ctx, key); err == nil && ok {
			result[field] = v
		}
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// ingredientMatch is one search hit
type ingredientMatch struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// handleSearchIngredients handles the search_ingredients tool
func (s *Server) handleSearchIngredients(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	maxResults := request.GetInt("max_results", defaultMaxResults)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxMaxResults {
		maxResults = maxMaxResults
	}
	minScore := request.GetFloat("min_score", defaultMinScore)

	h, err := s.store.Acquire(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("database unavailable: %v", err)), nil
	}
	defer h.Release()
	all, err := h.ListIngredients(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list ingredients: %v", err)), nil
	}

	matches := searchIngredients(all, query, minScore)
	total := len(matches)
	if len(matches) > maxResults {
		matches = matches[:maxResults]
	}
	result := map[string]interface{}{
		"query":         query,
		"results":       matches,
		"total_matches": total,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// searchIngredients scores every ingredient against query. A name containing
// the query scores 1; otherwise the Jaro-Winkler similarity of the lowercased
// names is used. Results are sorted by score, then name.
func searchIngredients(all []storage.IngredientSummary, query string, minScore float64) []ingredientMatch {
	q := strings.ToLower(query)
	matches := make([]ingredientMatch, 0)
	for _, ing := range all {
		name := strings.ToLower(ing.Name)
		score := matchr.JaroWinkler(q, name, false)
		if strings.Contains(name, q) {
			score = 1
		}
		if score < minScore {
			continue
		}
		matches = append(matches, ingredientMatch{ID: ing.ID, Name: ing.Name, URL: ing.URL, Score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Name < matches[j].Name
	})
	return matches
}

// handleGetProduct handles the get_product tool
func (s *Server) handleGetProduct(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := request.GetString("id", "")
	productURL := request.GetString("url", "")
	if id == "" && productURL == "" {
		return mcp.NewToolResultError("id or url parameter is required"), nil
	}

	h, err := s.store.Acquire(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("database unavailable: %v", err)), nil
	}
	defer h.Release()

	var p *models.Product
	if id != "" {
		p, err = h.GetProduct(ctx, id)
	} else {
		p, err = h.ProductByURL(ctx, productURL)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load product: %v", err)), nil
	}
	if p == nil {
		return mcp.NewToolResultError("product not found"), nil
	}

	result, err := describeProduct(ctx, h, p)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to resolve product references: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// describeProduct expands a product's id lists into names.
func describeProduct(ctx context.Context, h *storage.Handle, p *models.Product) (map[string]interface{}, error) {
	var fnIDs []string
	for _, row := range p.IngredientFunctions {
		fnIDs = append(fnIDs, row.FunctionIDs...)
	}
	ingredients, err := h.IngredientNames(ctx, p.IngredientIDs)
	if err != nil {
		return nil, err
	}
	functions, err := h.FunctionNames(ctx, fnIDs)
	if err != nil {
		return nil, err
	}
	tags, err := h.FreeTagNames(ctx, p.FreeTagIDs)
	if err != nil {
		return nil, err
	}

	names := func(ids []string, index map[string]string) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			if n, ok := index[id]; ok {
				out = append(out, n)
			}
		}
		return out
	}
	functionRows := make([]map[string]interface{}, 0, len(p.IngredientFunctions))
	for _, row := range p.IngredientFunctions {
		functionRows = append(functionRows, map[string]interface{}{
			"ingredient": ingredients[row.IngredientID],
			"functions":  names(row.FunctionIDs, functions),
		})
	}

	result := map[string]interface{}{
		"id":                   p.ID,
		"name":                 p.Name,
		"url":                  p.URL,
		"description":          p.Description,
		"image_path":           p.ImagePath,
		"ingredients":          names(p.IngredientIDs, ingredients),
		"key_ingredients":      names(p.KeyIngredientIDs, ingredients),
		"other_ingredients":    names(p.OtherIngredientIDs, ingredients),
		"free_tags":            names(p.FreeTagIDs, tags),
		"ingredient_functions": functionRows,
		"discontinued":         p.Discontinued,
		"details_scraped":      p.DetailsScraped,
		"last_checked_at":      p.LastCheckedAt,
		"last_updated_at":      p.LastUpdatedAt,
	}
	if p.ReplacementURL != "" {
		result["replacement_url"] = p.ReplacementURL
	}
	if b, err := h.GetBrand(ctx, p.BrandID); err == nil && b != nil {
		result["brand"] = b.Name
	}
	return result, nil
}

// handleStartRun handles the start_run tool
func (s *Server) handleStartRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := JobRequest{
		Stage:      request.GetString("stage", "all"),
		Rescan:     request.GetBool("rescan", false),
		SampleData: request.GetBool("sample_data", false),
	}
	opts, err := stageOptions(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	job, created := s.jobs.CreateJob(req)
	if !created {
		result := map[string]interface{}{
			"status":  "already_running",
			"message": "A run is already in progress",
			"job_id":  job.ID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	go s.runJob(job.ID, opts)

	result := map[string]interface{}{
		"status":  "started",
		"message": "Run started successfully",
		"job_id":  job.ID,
		"request": req,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runJob runs a job in the background
func (s *Server) runJob(jobID string, opts orchestrate.RunOptions) {
	s.jobs.UpdateStatus(jobID, JobStatusRunning, "")
	ctx := s.jobs.GetContext(jobID)

	summary := s.run(ctx, opts, func(p orchestrate.Progress) {
		processed, failed := 0, 0
		for _, r := range p.Completed {
			processed += r.Processed
			failed += r.Failed
		}
		s.jobs.UpdateProgress(jobID, string(p.CurrentStage), processed, failed)
	})

	switch {
	case summary.Err == nil:
		s.jobs.UpdateStatus(jobID, JobStatusCompleted, "")
	case errors.Is(summary.Err, context.Canceled):
		s.jobs.UpdateStatus(jobID, JobStatusCancelled, "")
	default:
		s.log.Errorf("Run %s failed: %v", jobID, summary.Err)
		s.jobs.UpdateStatus(jobID, JobStatusFailed, summary.Err.Error())
	}
}

// handleGetRunStatus handles the get_run_status tool
func (s *Server) handleGetRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	var job *Job
	if jobID == "" {
		if job = s.jobs.ActiveJob(); job == nil {
			return mcp.NewToolResultError("no run in progress; pass job_id for a finished run"), nil
		}
	} else if job = s.jobs.GetJob(jobID); job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":          job.ID,
		"status":          job.Status,
		"request":         job.Request,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"units_processed": job.Processed,
		"units_failed":    job.Failed,
	}
	if job.CurrentStage != "" {
		result["current_stage"] = job.CurrentStage
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelRun handles the cancel_run tool
func (s *Server) handleCancelRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if !s.jobs.CancelJob(jobID) {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' is not running", jobID)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id": jobID,
		"status": JobStatusCancelled,
	})), nil
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
