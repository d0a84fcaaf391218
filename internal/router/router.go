package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/examportal/internal/config"
	"github.com/stemsi/examportal/internal/handler"
	"github.com/stemsi/examportal/internal/middleware"
	"github.com/stemsi/examportal/internal/response"
	"github.com/stemsi/examportal/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam    *handler.ExamHandler
	Proctor *handler.ProctorHandler
	Monitor *handler.MonitorHandler
	Health  *handler.HealthHandler
}

// Limiters groups the rate limiters applied to write routes.
// A nil limiter disables limiting for its routes.
type Limiters struct {
	Start  *middleware.RateLimiter
	Submit *middleware.RateLimiter
	Upload *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiters *Limiters,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

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
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "X-RateLimit-Remaining"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		Quality:      middleware.DefaultBrotliConfig.Quality,
		MinLength:    middleware.DefaultBrotliConfig.MinLength,
		SkipPrefixes: []string{"/uploads"},
	}))

	// Recordings are immutable once written (1 year).
	uploadsGroup := router.Group("/uploads")
	uploadsGroup.Use(middleware.ImmutableCache(31536000))
	{
		uploadsGroup.Static("/", cfg.UploadDir)
	}

	router.GET("/health", handlers.Health.Health)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/exams/:exam_id/start", limit(limiters.Start), handlers.Exam.StartAttempt)
		studentAPI.GET("/exams/:exam_id/summary", handlers.Exam.GetSummary)
		studentAPI.GET("/exams/:exam_id/questions", handlers.Exam.GetQuestions)
		studentAPI.POST("/exams/:exam_id/submit", limit(limiters.Submit), handlers.Exam.Submit)
		studentAPI.POST("/exams/:exam_id/upload-audio", limit(limiters.Upload), handlers.Exam.UploadAudio)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/exams/:exam_id/proctor", handlers.Proctor.ProctorStream)
	}

	// ─── 3. Faculty Group (JWT) ────────────────────────────────────────
	facultyAPI := router.Group("/api/v1/faculty")
	facultyAPI.Use(middleware.RequireFacultyJWT(authService))
	{
		facultyAPI.GET("/exams/:id/monitor", handlers.Monitor.MonitorExamSSE)
	}

	return router
}

func limit(rl *middleware.RateLimiter) gin.HandlerFunc {
	if rl == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return rl.Middleware()
}
