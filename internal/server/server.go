package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/extractor"
	"github.com/guiyumin/vfetch/internal/core/media"
	"github.com/guiyumin/vfetch/internal/core/metrics"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/guiyumin/vfetch/internal/core/retrieval"
	"github.com/guiyumin/vfetch/internal/core/version"
)

// Response is the standard API response structure
type Response struct {
	Code    int       `json:"code"`
	Success bool      `json:"success"`
	Data    any       `json:"data"`
	Message string    `json:"message"`
	Kind    errs.Kind `json:"kind,omitempty"`
}

// InfoRequest is the request body for POST /api/info
type InfoRequest struct {
	URL string `json:"url" binding:"required"`
}

// DownloadRequest is the request body for POST /api/download and POST /api/jobs
type DownloadRequest struct {
	URL     string `json:"url" binding:"required"`
	Quality string `json:"quality,omitempty"`
}

// Retriever is the part of the orchestrator the server drives
type Retriever interface {
	ResolveInfo(ctx context.Context, rawURL string) (*media.Info, error)
	RetrieveMedia(ctx context.Context, rawURL string, opts extractor.Options) (*media.Result, error)
	Chains() map[platform.Platform][]string
	Probe(ctx context.Context) map[platform.Platform][]retrieval.AdapterStatus
}

// FileResolver maps a served filename to a path on disk
type FileResolver interface {
	Path(name string) (string, error)
}

// PlaylistFunc lists the entries of a playlist URL
type PlaylistFunc func(ctx context.Context, rawURL string, limit int) ([]extractor.PlaylistEntry, error)

// Options configure the server
type Options struct {
	Port          int
	APIKey        string
	MaxConcurrent int
	Quality       string // default quality for requests that omit it
	RateLimit     float64
	RateBurst     int

	// Gatherer backs /metrics; nil uses the default registry
	Gatherer prometheus.Gatherer
}

// Server is the HTTP server for vfetch
type Server struct {
	opts     Options
	retr     Retriever
	files    FileResolver
	playlist PlaylistFunc
	jobQueue *JobQueue
	limiter  *clientLimiter
	logger   zerolog.Logger
	server   *http.Server
	engine   *gin.Engine
}

// NewServer creates a new HTTP server around an orchestrator
func NewServer(orch *retrieval.Orchestrator, opts Options, logger zerolog.Logger) *Server {
	return newServer(orch, orch.Sink(), extractor.ListPlaylist, orch.Metrics(), opts, logger)
}

func newServer(retr Retriever, files FileResolver, playlist PlaylistFunc, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		opts:     opts,
		retr:     retr,
		files:    files,
		playlist: playlist,
		logger:   logger.With().Str("component", "server").Logger(),
	}
	if opts.RateLimit > 0 {
		s.limiter = newClientLimiter(opts.RateLimit, opts.RateBurst)
	}
	s.jobQueue = NewJobQueue(opts.MaxConcurrent, s.runJob, m, logger)
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Jobs exposes the job queue
func (s *Server) Jobs() *JobQueue {
	return s.jobQueue
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.loggingMiddleware())
	if s.limiter != nil {
		engine.Use(s.rateLimitMiddleware())
	}
	if s.opts.APIKey != "" {
		engine.Use(s.authMiddleware())
	}

	api := engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/info", s.handleInfo)
	api.POST("/download", s.handleDownload)
	api.POST("/jobs", s.handleAddJob)
	api.GET("/jobs", s.handleGetJobs)
	api.DELETE("/jobs", s.handleClearJobs)
	api.GET("/jobs/:id", s.handleGetJob)
	api.DELETE("/jobs/:id", s.handleDeleteJob)
	api.GET("/platforms", s.handlePlatforms)
	api.GET("/playlist", s.handlePlaylist)

	engine.GET("/downloads/:filename", s.handleFile)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))

	engine.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "", "not found")
	})
	return engine
}

// Start starts the job workers and the HTTP listener
func (s *Server) Start() error {
	s.jobQueue.Start()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.opts.Port),
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // downloads can be slow
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().Int("port", s.opts.Port).Bool("auth", s.opts.APIKey != "").Msg("starting vfetch server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.jobQueue.Stop()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Middleware

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path

		// Mutations and job listings need the key; everything else is public
		protected := strings.HasPrefix(path, "/api/") &&
			(c.Request.Method != http.MethodGet || strings.HasPrefix(path, "/api/jobs"))
		if !protected {
			c.Next()
			return
		}

		key := c.GetHeader("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.APIKey)) != 1 {
			fail(c, http.StatusUnauthorized, "", "invalid or missing API key")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.HasPrefix(c.Request.URL.Path, "/api/") || c.Request.URL.Path == "/api/health" {
			c.Next()
			return
		}
		if !s.limiter.allow(c.ClientIP()) {
			fail(c, http.StatusTooManyRequests, "", "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Responses

func ok(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Response{Code: status, Success: true, Data: data, Message: message})
}

func fail(c *gin.Context, status int, kind errs.Kind, message string) {
	c.JSON(status, Response{Code: status, Success: false, Message: message, Kind: kind})
}

func (s *Server) failErr(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	status := StatusFor(kind)
	if status >= 500 {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	}
	fail(c, status, kind, errorMessage(err))
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidInput, errs.KindUnsupportedPlatform, errs.KindAllBackendsFailed:
		return http.StatusBadRequest
	case errs.KindTimeout:
		return http.StatusGatewayTimeout
	case errs.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage strips the op prefix from taxonomy errors
func errorMessage(err error) string {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	}, "everything is good")
}

func (s *Server) handleInfo(c *gin.Context) {
	var req InfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, errs.KindInvalidInput, "invalid request body: url is required")
		return
	}

	info, err := s.retr.ResolveInfo(c.Request.Context(), req.URL)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, info, "metadata resolved")
}

func (s *Server) handleDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, errs.KindInvalidInput, "invalid request body: url is required")
		return
	}

	res, err := s.retr.RetrieveMedia(c.Request.Context(), req.URL, extractor.Options{Quality: s.quality(req.Quality)})
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res.Summary(), "download complete")
}

func (s *Server) quality(q string) string {
	if q == "" {
		return s.opts.Quality
	}
	return q
}

func (s *Server) runJob(ctx context.Context, url, quality string, progressFn func(downloaded, total int64)) (*media.Result, error) {
	return s.retr.RetrieveMedia(ctx, url, extractor.Options{Quality: quality, Progress: progressFn})
}

func (s *Server) handleAddJob(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, errs.KindInvalidInput, "invalid request body: url is required")
		return
	}

	job, err := s.jobQueue.AddJob(req.URL, s.quality(req.Quality))
	if err != nil {
		fail(c, http.StatusServiceUnavailable, "", err.Error())
		return
	}
	ok(c, http.StatusAccepted, job, "download queued")
}

func (s *Server) handleGetJob(c *gin.Context) {
	job := s.jobQueue.GetJob(c.Param("id"))
	if job == nil {
		fail(c, http.StatusNotFound, "", "job not found")
		return
	}
	ok(c, http.StatusOK, job, string(job.Status))
}

func (s *Server) handleGetJobs(c *gin.Context) {
	jobs := s.jobQueue.GetAllJobs()
	ok(c, http.StatusOK, gin.H{"jobs": jobs}, fmt.Sprintf("%d jobs found", len(jobs)))
}

func (s *Server) handleClearJobs(c *gin.Context) {
	count := s.jobQueue.ClearHistory()
	ok(c, http.StatusOK, gin.H{"cleared": count}, fmt.Sprintf("%d jobs cleared", count))
}

func (s *Server) handleDeleteJob(c *gin.Context) {
	id := c.Param("id")

	// Try to cancel active job first, then try to remove finished job
	switch {
	case s.jobQueue.CancelJob(id):
		ok(c, http.StatusOK, gin.H{"id": id}, "job cancelled")
	case s.jobQueue.RemoveJob(id):
		ok(c, http.StatusOK, gin.H{"id": id}, "job removed")
	default:
		fail(c, http.StatusNotFound, "", "job not found or cannot be cancelled/removed")
	}
}

// PlatformStatus describes one platform's chain
type PlatformStatus struct {
	Platform platform.Platform         `json:"platform"`
	Adapters []retrieval.AdapterStatus `json:"adapters"`
}

func (s *Server) handlePlatforms(c *gin.Context) {
	probe := s.retr.Probe(c.Request.Context())
	out := make([]PlatformStatus, 0, len(probe))
	for _, p := range platform.All() {
		if st, found := probe[p]; found {
			out = append(out, PlatformStatus{Platform: p, Adapters: st})
		}
	}
	ok(c, http.StatusOK, out, fmt.Sprintf("%d platforms configured", len(out)))
}

func (s *Server) handlePlaylist(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		fail(c, http.StatusBadRequest, errs.KindInvalidInput, "url query parameter is required")
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(c, http.StatusBadRequest, errs.KindInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.playlist(c.Request.Context(), rawURL, limit)
	if err != nil {
		s.failErr(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"entries": entries}, fmt.Sprintf("%d entries found", len(entries)))
}

func (s *Server) handleFile(c *gin.Context) {
	name := c.Param("filename")
	path, err := s.files.Path(name)
	if err != nil {
		fail(c, http.StatusNotFound, "", "file not found")
		return
	}
	c.FileAttachment(path, name)
}
