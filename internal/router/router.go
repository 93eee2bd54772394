package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/luminedu/examgate-backend/internal/config"
	"github.com/luminedu/examgate-backend/internal/handler"
	"github.com/luminedu/examgate-backend/internal/middleware"
	"github.com/luminedu/examgate-backend/internal/response"
	"github.com/luminedu/examgate-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Monitor       *handler.MonitorHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Per-student limiter sized for the autosave+heartbeat cadence: one
	// autosave per 10s plus one heartbeat per 30s leaves ample headroom
	// at 60 requests per minute.
	studentLimiter := middleware.NewRateLimiter(60, time.Minute)

	// ─── 1. Student Group (JWT, Rate Limited) ──────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		studentLimiter.Middleware(),
	)
	{
		studentAPI.GET("/exams/:exam_id/paper", handlers.StudentPortal.GetPaper)
		studentAPI.POST("/exams/:exam_id/autosave", handlers.StudentPortal.Autosave)
		studentAPI.GET("/exams/:exam_id/progress", handlers.StudentPortal.GetProgress)
		studentAPI.POST("/exams/:exam_id/resume", handlers.StudentPortal.ResumeTest)
		studentAPI.POST("/exams/:exam_id/heartbeat", handlers.StudentPortal.Heartbeat)
		studentAPI.POST("/exams/:exam_id/submit", handlers.StudentPortal.Submit)
	}

	// ─── 2. Admin Monitor Group (JWT) ──────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/monitor/stale-attempts", handlers.Monitor.GetStaleAttempts)
	}

	// ─── 3. Monitor Stream (Admin WS Auth via ?token=) ─────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(authService))
	{
		ws.GET("/admin/monitor/stream", handlers.Monitor.StreamEvents)
	}

	return router
}
