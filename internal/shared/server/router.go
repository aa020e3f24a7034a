package server

import (
	"github.com/gin-gonic/gin"

	"receipts-backend/internal/analysis"
	"receipts-backend/internal/batch"
	"receipts-backend/internal/pipeline"
	"receipts-backend/internal/recordstore"
	"receipts-backend/internal/services/health"
	"receipts-backend/internal/shared/auth"
	"receipts-backend/internal/shared/config"
	"receipts-backend/internal/shared/metrics"
	"receipts-backend/internal/shared/server/middleware"
	"receipts-backend/internal/shared/server/respond"
	"receipts-backend/internal/shared/telemetry"
	"receipts-backend/internal/submit"
)

// NewRouter constructs the gin engine with middleware, dependencies, and
// routes wired from the given configuration.
func NewRouter(cfg config.Config) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	var verifier middleware.TokenVerifier
	if cfg.AuthSecret != "" {
		verifier = auth.NewVerifier(cfg.AuthSecret, cfg.AuthAudience, cfg.AuthScope, cfg.AuthIssuerPattern)
	} else {
		telemetry.Info("auth.disabled", map[string]any{"env": cfg.Env})
	}

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowOrigin),
		middleware.Auth(verifier),
	)

	// Dependencies
	store, err := batch.NewStore(cfg.BatchRootDir)
	if err != nil {
		return nil, err
	}
	analyzer := analysis.NewClient(cfg.AnalysisEndpoint, cfg.AnalysisKey, cfg.AnalysisAPIVersion)
	if !analyzer.Configured() {
		telemetry.Info("analysis.demo_mode", map[string]any{"env": cfg.Env})
	}
	records := recordstore.New(cfg.RecordStoreBaseURL, cfg.RecordStoreSiteID, cfg.RecordStoreListID, cfg.RecordStoreToken)
	if !records.Configured() {
		telemetry.Info("recordstore.mock_mode", map[string]any{"env": cfg.Env})
	}

	pipelineHandler := pipeline.NewHandler(&pipeline.Service{Batches: store, Analyzer: analyzer})
	submitHandler := submit.NewHandler(&submit.Service{Batches: store, Records: records})
	healthSvc := health.NewService()

	api := r.Group("/api")
	api.GET("/health", func(c *gin.Context) {
		respond.OK(c, healthSvc.Status())
	})

	perSecond := float64(cfg.RateLimitPerMinute) / 60.0
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"DEFAULT": {Rate: perSecond, Burst: cfg.RateLimitPerMinute},
		},
	}))
	pipelineHandler.RegisterRoutes(api)
	submitHandler.RegisterRoutes(api)

	r.GET("/metrics", metrics.Handler())

	return r, nil
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
