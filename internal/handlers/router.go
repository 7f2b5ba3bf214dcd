package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/repsync/internal/metrics"
	"github.com/mossy-p/repsync/internal/middleware"
	"github.com/mossy-p/repsync/internal/results"
	"github.com/mossy-p/repsync/internal/session"
	"github.com/mossy-p/repsync/internal/signaling"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterParams holds everything the HTTP surface needs
type RouterParams struct {
	JWTSecret      string
	AllowedOrigins []string
	Coordinator    *session.Coordinator
	Relay          *signaling.Relay
	Results        results.Repo
	Hub            *Hub
	Metrics        *metrics.Manager
	Gatherer       prometheus.Gatherer
	ICEServers     []string
}

// NewRouter wires every route onto a gin engine
func NewRouter(p RouterParams) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger())
	if p.Metrics != nil {
		router.Use(Metrics(p.Metrics))
	}

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(p.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if p.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{})))
	}

	auth := middleware.JWTAuth(p.JWTSecret)

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", Login(p.JWTSecret))
		apiGroup.GET("/ice-servers", ICEServers(p.ICEServers))

		sessions := apiGroup.Group("/sessions")
		sessions.POST("", auth, CreateSession(p.Coordinator))
		// Get session info (public, id or join code)
		sessions.GET("/:sessionId", GetSession(p.Coordinator))
		sessions.POST("/:sessionId/join", auth, JoinSession(p.Coordinator))
		sessions.POST("/:sessionId/start", auth, StartSession(p.Coordinator))
		sessions.POST("/:sessionId/end", auth, EndSession(p.Coordinator))
		sessions.PUT("/:sessionId/count", auth, UpdateCount(p.Coordinator))
		sessions.POST("/:sessionId/signaling", auth, SendSignal(p.Relay))
		sessions.GET("/:sessionId/signaling", auth, PendingSignals(p.Coordinator, p.Relay))

		apiGroup.POST("/workout-sessions", auth, SaveResult(p.Results, p.Coordinator))
		apiGroup.GET("/workout-sessions", auth, ListResults(p.Results))
	}

	// WebSocket push channel - accepts session code or ID
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/sessions/:sessionId", auth, p.Hub.HandleSession)
	}

	return router
}
