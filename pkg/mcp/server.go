package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/config"
	"github.com/Sriram-PR/inci-scraper/pkg/models"
	"github.com/Sriram-PR/inci-scraper/pkg/orchestrate"
	"github.com/Sriram-PR/inci-scraper/pkg/storage"
)

const (
	serverName       = "inci-scraper"
	serverVersion    = "1.0.0"
	progressInterval = 2 * time.Second
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
}

// RunFunc executes one scrape run, reporting progress while it runs
type RunFunc func(ctx context.Context, opts orchestrate.RunOptions, progress func(orchestrate.Progress)) orchestrate.RunSummary

// Server exposes the dataset and background runs as MCP tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	log       *logrus.Entry
	store     *storage.Store
	jobs      *JobManager
	run       RunFunc
}

// NewServer opens the database and registers the tools
func NewServer(ctx context.Context, cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	log := cfg.Logger.WithField("component", "mcp")

	store, err := storage.Open(ctx, cfg.AppConfig.DBPath, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		mcpServer: server.NewMCPServer(serverName, serverVersion, server.WithLogging()),
		cfg:       cfg,
		log:       log,
		store:     store,
		jobs:      NewJobManager(),
	}
	s.run = s.orchestratedRun
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("workload_summary",
		mcp.WithDescription("Report stored brands, products and ingredients and the work still pending"),
	), s.handleWorkloadSummary)

	s.mcpServer.AddTool(mcp.NewTool("search_ingredients",
		mcp.WithDescription("Find stored ingredients whose name is similar to the query (Jaro-Winkler)"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Ingredient name or part of it"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of results (default: 10, max: 100)"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum similarity between 0 and 1 (default: 0.8)"),
		),
	), s.handleSearchIngredients)

	s.mcpServer.AddTool(mcp.NewTool("get_product",
		mcp.WithDescription("Return a stored product with its ingredients, functions and free tags resolved to names"),
		mcp.WithString("id",
			mcp.Description("Product id"),
		),
		mcp.WithString("url",
			mcp.Description("Product page URL (used when id is empty)"),
		),
	), s.handleGetProduct)

	s.mcpServer.AddTool(mcp.NewTool("start_run",
		mcp.WithDescription("Start a background scrape run. Returns immediately with a job ID."),
		mcp.WithString("stage",
			mcp.Description("all (default), brands, products or details"),
		),
		mcp.WithBoolean("rescan",
			mcp.Description("Revisit completed work"),
		),
		mcp.WithBoolean("sample_data",
			mcp.Description("Reset the dataset and scrape a small sample"),
		),
	), s.handleStartRun)

	s.mcpServer.AddTool(mcp.NewTool("get_run_status",
		mcp.WithDescription("Get the status of a run job (the active job when job_id is empty)"),
		mcp.WithString("job_id",
			mcp.Description("The job ID returned by start_run"),
		),
	), s.handleGetRunStatus)

	s.mcpServer.AddTool(mcp.NewTool("cancel_run",
		mcp.WithDescription("Cancel a running job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by start_run"),
		),
	), s.handleCancelRun)

	s.log.Infof("Registered %d MCP tools", 6)
}

// orchestratedRun runs the orchestrator, forwarding its progress every few seconds.
func (s *Server) orchestratedRun(ctx context.Context, opts orchestrate.RunOptions, progress func(orchestrate.Progress)) orchestrate.RunSummary {
	o, err := orchestrate.New(ctx, s.cfg.AppConfig, opts, orchestrate.Deps{}, s.log.WithField("component", "run"))
	if err != nil {
		return orchestrate.RunSummary{Err: err}
	}
	defer o.Close()

	done := make(chan orchestrate.RunSummary, 1)
	go func() { done <- o.Run(ctx) }()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case summary := <-done:
			progress(o.GetProgress())
			return summary
		case <-ticker.C:
			progress(o.GetProgress())
		}
	}
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		return server.NewSSEServer(s.mcpServer).Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and closes the database
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobs.CancelAll()
	return s.store.Close()
}

func stageOptions(req JobRequest) (orchestrate.RunOptions, error) {
	stages, ok := models.ParseStageName(req.Stage)
	if !ok {
		return orchestrate.RunOptions{}, fmt.Errorf("unknown stage %q (expected all, brands, products or details)", req.Stage)
	}
	return orchestrate.RunOptions{Stages: stages, Rescan: req.Rescan, SampleData: req.SampleData}, nil
}
