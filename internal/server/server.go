// Package server exposes the reconciliation pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"divrecon/internal/cache"
	"divrecon/internal/config"
	"divrecon/internal/consolidate"
	"divrecon/internal/ingest"
	"divrecon/internal/logging"
	"divrecon/internal/store"
	"divrecon/internal/types"
)

// Server wires the HTTP surface to the pipeline.
type Server struct {
	cfg    *config.Config
	orch   *consolidate.Orchestrator
	cache  *cache.Cache
	runs   *store.Store // nil disables run history
	engine *gin.Engine
}

// New builds the server and registers routes.
func New(cfg *config.Config, orch *consolidate.Orchestrator, c *cache.Cache, runs *store.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{cfg: cfg, orch: orch, cache: c, runs: runs, engine: engine}

	engine.GET("/health", s.handleHealth)
	api := engine.Group("/api")
	{
		api.POST("/analyze", s.handleAnalyze)
		api.GET("/analyze/legacy", s.handleLegacy)
		api.GET("/runs", s.handleRuns)
	}
	return s
}

// Engine exposes the router, mainly for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Get(logging.CategoryAPI).Infow("listening", "addr", s.cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// analyze loads the configured exports and runs (or serves the cached)
// reconciliation. ?refresh=true forces a re-run.
func (s *Server) handleAnalyze(c *gin.Context) {
	result, cached, err := s.analyze(c.Request.Context(), c.Query("refresh") == "true")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cached":            cached,
		"run_id":            result.RunID,
		"row_analyses":      result.Rows,
		"portfolio_summary": result.Summary,
	})
}

func (s *Server) handleLegacy(c *gin.Context) {
	result, cached, err := s.analyze(c.Request.Context(), false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cached": cached,
		"breaks": consolidate.Legacy(result.Rows),
	})
}

func (s *Server) handleRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusOK, gin.H{"runs": []store.RunRecord{}})
		return
	}
	records, err := s.runs.ListRuns(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []store.RunRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": records})
}

func (s *Server) analyze(ctx context.Context, refresh bool) (*types.AnalysisResult, bool, error) {
	log := logging.Get(logging.CategoryAPI)

	nbim, nbimErrs, err := ingest.LoadNBIM(s.cfg.Data.NBIMFile)
	if err != nil {
		return nil, false, fmt.Errorf("loading ledger export: %w", err)
	}
	custody, custErrs, err := ingest.LoadCustody(s.cfg.Data.CustodyFile)
	if err != nil {
		return nil, false, fmt.Errorf("loading custodian export: %w", err)
	}
	if len(nbimErrs) > 0 || len(custErrs) > 0 {
		log.Warnw("rows skipped during load", "ledger", len(nbimErrs), "custodian", len(custErrs))
	}

	fp := cache.Fingerprint(nbim, custody)
	result, cached, err := s.cache.GetOrCompute(ctx, fp, refresh,
		func(ctx context.Context) (*types.AnalysisResult, error) {
			return s.orch.Run(ctx, nbim, custody, fp)
		})
	if err != nil {
		return nil, false, err
	}

	if !cached && s.runs != nil {
		if err := s.runs.SaveRun(ctx, result); err != nil {
			log.Warnw("failed to persist run", "run_id", result.RunID, "error", err)
		}
	}
	return result, cached, nil
}
