package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/handler"
	"github.com/stemsi/mocktest-backend/internal/logger"
	"github.com/stemsi/mocktest-backend/internal/middleware"
	"github.com/stemsi/mocktest-backend/internal/response"
	"github.com/stemsi/mocktest-backend/internal/service"
)

// catalogMaxAge is how long clients may cache subject and test listings.
const catalogMaxAge = 60

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth      *handler.AuthHandler
	Catalog   *handler.CatalogHandler
	Run       *handler.RunHandler
	Attempt   *handler.AttemptHandler
	Subject   *handler.SubjectHandler
	Question  *handler.QuestionHandler
	Test      *handler.TestHandler
	Chat      *handler.ChatHandler
	WS        *handler.WSHandler
	System    *handler.SystemHandler
	Dashboard *handler.DashboardHandler
	Monitor   *handler.MonitorHandler
}

// Deps are the services and clients the middleware chain needs.
type Deps struct {
	AuthService    *service.AuthService
	ProfileService *service.ProfileService
	Redis          *redis.Client
	Log            zerolog.Logger
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(deps Deps, handlers *Handlers, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())
	authService := deps.AuthService

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Content-Disposition", "X-Total-Count", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(logger.Middleware(deps.Log))

	// CSV downloads are served as-is so clients can stream them to disk.
	router.Use(middleware.Compress(middleware.CompressOptions{
		SkipSuffixes: []string{"/export"},
	}))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	authLimiter := middleware.NewRateLimiter(deps.Redis, "auth", cfg.AuthRateLimit, time.Minute, deps.Log)

	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware(), middleware.NoStore())
	{
		auth.POST("/register", handlers.Auth.Register)
		auth.POST("/login", handlers.Auth.Login)

		signedIn := auth.Group("")
		signedIn.Use(middleware.RequireJWT(authService), middleware.CheckSingleDeviceSession(authService))
		{
			signedIn.POST("/logout", handlers.Auth.Logout)
			signedIn.GET("/me", handlers.Auth.Me)
		}
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		catalog := studentAPI.Group("")
		catalog.Use(middleware.CacheControl(catalogMaxAge))
		{
			catalog.GET("/subjects", handlers.Catalog.ListSubjects)
			catalog.GET("/subjects/:id/tests", handlers.Catalog.ListTests)
			catalog.GET("/tests/:id", handlers.Catalog.GetTest)
		}

		personal := studentAPI.Group("")
		personal.Use(middleware.NoStore())
		{
			personal.GET("/profile", handlers.Auth.GetProfile)
			personal.PUT("/profile", handlers.Auth.UpdateProfile)

			personal.GET("/attempts", handlers.Attempt.History)
			personal.GET("/attempts/:id", handlers.Attempt.Result)
			personal.GET("/attempts/:id/review", handlers.Attempt.Review)
		}

		// Taking a test needs a finished profile.
		runs := studentAPI.Group("")
		runs.Use(middleware.NoStore(), middleware.RequireCompleteProfile(deps.ProfileService))
		{
			runs.POST("/tests/:id/runs", handlers.Run.Start)
			runs.GET("/runs/:run_id", handlers.Run.Get)
			runs.GET("/runs/:run_id/questions", handlers.Run.Questions)
			runs.GET("/runs/:run_id/question", handlers.Run.Current)
			runs.PUT("/runs/:run_id/cursor", handlers.Run.MoveCursor)
			runs.PUT("/runs/:run_id/selections", handlers.Run.Select)
			runs.POST("/runs/:run_id/submit", handlers.Run.Submit)
		}
	}

	// ─── 3. Chat Group (any signed-in user) ────────────────────────────
	chatAPI := router.Group("/api/v1/chat")
	chatAPI.Use(
		middleware.RequireJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		chatAPI.GET("/channels", handlers.Chat.ListChannels)
		chatAPI.GET("/channels/:id/messages", handlers.Chat.ListMessages)
		chatAPI.POST("/channels/:id/messages", handlers.Chat.PostMessage)
		chatAPI.DELETE("/messages/:id", handlers.Chat.DeleteMessage)
		chatAPI.POST("/messages/:id/reactions", handlers.Chat.React)
	}

	// ─── 4. WebSocket Group (token in query) ───────────────────────────
	ws := router.Group("/ws/v1")
	{
		ws.GET("/runs/:run_id/stream",
			middleware.RequireWSAuth(authService, service.TokenTypeStudent),
			middleware.CheckSingleDeviceSession(authService),
			handlers.WS.RunStream,
		)
		ws.GET("/chat/channels/:id/stream",
			middleware.RequireWSAuth(authService, ""),
			middleware.CheckSingleDeviceSession(authService),
			handlers.WS.ChatStream,
		)
	}

	// ─── 5. Admin Group ────────────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(
		middleware.RequireAdminJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		// Subjects Routes
		subjectsGroup := adminAPI.Group("/subjects")
		{
			subjectsGroup.GET("", handlers.Subject.GetAll)
			subjectsGroup.POST("", handlers.Subject.Create)
			subjectsGroup.PUT("/:id", handlers.Subject.Update)
			subjectsGroup.DELETE("/:id", handlers.Subject.Delete)
			subjectsGroup.GET("/:id/tests", handlers.Subject.Tests)
			subjectsGroup.GET("/:id/questions", handlers.Question.ListQuestions)
		}

		// Question bank
		questionsGroup := adminAPI.Group("/questions")
		{
			questionsGroup.POST("", handlers.Question.CreateQuestion)
			questionsGroup.GET("/:id", handlers.Question.GetQuestion)
			questionsGroup.PUT("/:id", handlers.Question.UpdateQuestion)
			questionsGroup.DELETE("/:id", handlers.Question.DeleteQuestion)
		}

		// Tests
		testsGroup := adminAPI.Group("/tests")
		{
			testsGroup.POST("", handlers.Test.CreateTest)
			testsGroup.GET("/:id", handlers.Test.GetTest)
			testsGroup.PUT("/:id", handlers.Test.UpdateTest)
			testsGroup.DELETE("/:id", handlers.Test.DeleteTest)
			testsGroup.PUT("/:id/questions", handlers.Test.SetQuestions)
			testsGroup.GET("/:id/progress", handlers.Monitor.Progress)
			testsGroup.GET("/:id/monitor", handlers.Monitor.MonitorTestSSE)
		}

		// Attempts dashboard
		attemptsGroup := adminAPI.Group("/attempts")
		{
			attemptsGroup.GET("", handlers.Attempt.List)
			attemptsGroup.GET("/stats", handlers.Attempt.Stats)
			attemptsGroup.GET("/export", handlers.Attempt.Export)
		}

		// Chat moderation
		adminAPI.POST("/chat/channels", handlers.Chat.CreateChannel)
		adminAPI.DELETE("/chat/channels/:id", handlers.Chat.DeleteChannel)

		// Dashboard
		adminAPI.GET("/dashboard", handlers.Dashboard.GetDashboardData)

		// System Monitoring
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
		adminAPI.GET("/system/snapshot", handlers.System.Snapshot)
	}

	return router
}
