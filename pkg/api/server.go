// Package api exposes the analyzer over HTTP: one endpoint per pipeline
// (analyze, cluster, search) plus health.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/services"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/version"
)

// Server is the HTTP façade over the analysis services.
type Server struct {
	analyzer *services.AutoAnalyzerService
	cluster  *services.ClusterService
	search   *services.SearchService
	log      *slog.Logger

	httpServer *http.Server
}

// NewServer builds the router and wires the handlers.
func NewServer(analyzer *services.AutoAnalyzerService, cluster *services.ClusterService, search *services.SearchService) *Server {
	s := &Server{
		analyzer: analyzer,
		cluster:  cluster,
		search:   search,
		log:      slog.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/health", s.handleHealth)
	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", s.handleAnalyze)
		v1.POST("/cluster", s.handleCluster)
		v1.POST("/search", s.handleSearch)
	}

	s.httpServer = &http.Server{Handler: router}
	return s
}

// Start serves on addr until Shutdown is called. Blocks.
func (s *Server) Start(addr string) error {
	s.httpServer.Addr = addr
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server, waiting for in-flight requests up to the context
// deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"took", time.Since(start).Round(time.Millisecond))
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": version.Full(),
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	var launches []models.Launch
	if err := c.ShouldBindJSON(&launches); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid analyze request: " + err.Error()})
		return
	}
	results := s.analyzer.AnalyzeLogs(c.Request.Context(), launches, services.DefaultAnalysisTimeout)
	if results == nil {
		results = []models.AnalysisResult{}
	}
	c.JSON(http.StatusOK, results)
}

func (s *Server) handleCluster(c *gin.Context) {
	var info models.LaunchInfoForClustering
	if err := c.ShouldBindJSON(&info); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cluster request: " + err.Error()})
		return
	}
	result := s.cluster.FindClusters(c.Request.Context(), info)
	if result.Clusters == nil {
		result.Clusters = []models.ClusterInfo{}
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSearch(c *gin.Context) {
	var req models.SearchLogsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid search request: " + err.Error()})
		return
	}
	results := s.search.SearchLogs(c.Request.Context(), req)
	if results == nil {
		results = []models.SearchLogInfo{}
	}
	c.JSON(http.StatusOK, results)
}
