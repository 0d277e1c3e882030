package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pevans/flatwatch/discovery"
	"github.com/pevans/flatwatch/history"
	"github.com/pevans/flatwatch/site"
	"github.com/pevans/flatwatch/store"
	"go.uber.org/zap"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// Server exposes read-only status of the polling daemon over HTTP.
// History may be nil when run history is disabled.
type Server struct {
	service *discovery.Service
	store   *store.Store
	history *history.Store
	logger  *zap.Logger
}

// NewServer creates a status API server.
func NewServer(service *discovery.Service, st *store.Store, hist *history.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		store:   st,
		history: hist,
		logger:  logger.Named("api"),
	}
}

// SetupRouter configures the Gin router with the status routes.
func (s *Server) SetupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	// Add CORS middleware
	router.Use(func(ctx *gin.Context) {
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if ctx.Request.Method == "OPTIONS" {
			ctx.AbortWithStatus(http.StatusOK)
			return
		}

		ctx.Next()
	})

	router.GET("/healthz", s.HandleHealth)

	api := router.Group("/api/v1")
	api.GET("/runs", s.HandleListRuns)
	api.GET("/sites", s.HandleListSites)
	api.GET("/sites/:name", s.HandleGetSite)

	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		s.logger.Debug("request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// errorResponse creates a standardized error response.
func errorResponse(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// runSummary is the JSON form of the last completed pass.
type runSummary struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	NewListings int       `json:"new_listings"`
	FailedSites []string  `json:"failed_sites,omitempty"`
}

// HandleHealth handles GET /healthz.
func (s *Server) HandleHealth(ctx *gin.Context) {
	body := gin.H{"status": "ok"}

	if last := s.service.Last(); last != nil {
		summary := runSummary{
			RunID:       last.RunID.String(),
			StartedAt:   last.StartedAt,
			FinishedAt:  last.FinishedAt,
			NewListings: last.NewCount(),
		}
		for _, r := range last.FailedSites() {
			summary.FailedSites = append(summary.FailedSites, r.Site)
		}
		body["last_run"] = summary
	}

	ctx.JSON(http.StatusOK, body)
}

// HandleListRuns handles GET /api/v1/runs.
func (s *Server) HandleListRuns(ctx *gin.Context) {
	if s.history == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("history_disabled", "Run history is not enabled"))
		return
	}

	limit := defaultRunLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRunLimit {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_request", "limit must be between 1 and 200"))
			return
		}
		limit = n
	}

	runs, err := s.history.LatestRuns(ctx.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to retrieve runs"))
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}

	ctx.JSON(http.StatusOK, gin.H{"runs": runs})
}

// siteView combines a site's configuration with what is known about it.
type siteView struct {
	Name        string              `json:"name"`
	DisplayName string              `json:"display_name"`
	BaseURL     string              `json:"base_url"`
	Enabled     bool                `json:"enabled"`
	Markers     []string            `json:"markers,omitempty"`
	Health      string              `json:"health,omitempty"`
	Status      *history.SiteStatus `json:"status,omitempty"`
	Listings    *store.Stats        `json:"listings,omitempty"`
}

func (s *Server) viewSite(ctx *gin.Context, cfg *site.SiteConfig) (*siteView, error) {
	view := &siteView{
		Name:        cfg.Name,
		DisplayName: cfg.Title(),
		BaseURL:     cfg.BaseURL,
		Enabled:     cfg.Enabled,
	}
	for _, m := range cfg.Markers {
		view.Markers = append(view.Markers, m.Name)
	}

	if s.history != nil {
		status, err := s.history.SiteStatus(ctx.Request.Context(), cfg.Name)
		switch {
		case err == nil:
			view.Status = status
			view.Health = status.Health()
		case !errors.Is(err, history.ErrSiteNotFound):
			return nil, err
		}
	}

	stats, err := s.store.Stats(cfg.Name)
	if err != nil {
		return nil, err
	}
	view.Listings = stats

	return view, nil
}

// HandleListSites handles GET /api/v1/sites.
func (s *Server) HandleListSites(ctx *gin.Context) {
	views := make([]*siteView, 0, len(s.service.Sites()))
	for _, cfg := range s.service.Sites() {
		view, err := s.viewSite(ctx, cfg)
		if err != nil {
			s.logger.Error("failed to describe site", zap.String("site", cfg.Name), zap.Error(err))
			ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to retrieve sites"))
			return
		}
		views = append(views, view)
	}

	ctx.JSON(http.StatusOK, gin.H{"sites": views})
}

// HandleGetSite handles GET /api/v1/sites/:name.
func (s *Server) HandleGetSite(ctx *gin.Context) {
	name := ctx.Param("name")

	var cfg *site.SiteConfig
	for _, c := range s.service.Sites() {
		if c.Name == name {
			cfg = c
			break
		}
	}
	if cfg == nil {
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", "Site not found"))
		return
	}

	view, err := s.viewSite(ctx, cfg)
	if err != nil {
		s.logger.Error("failed to describe site", zap.String("site", name), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "Failed to retrieve site"))
		return
	}

	ctx.JSON(http.StatusOK, view)
}
