// Package api assembles the gateway's HTTP surface.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/llm-gateway-go/internal/api/handler"
	"github.com/user/llm-gateway-go/internal/api/middleware"
	"github.com/user/llm-gateway-go/internal/repository"
	"github.com/user/llm-gateway-go/internal/service"
	"go.uber.org/zap"
)

// ServerDeps holds all dependencies for the API server.
type ServerDeps struct {
	ProxyService *service.ProxyService
	AuthService  *service.AuthService
	ProviderRepo repository.ProviderRepository
	MappingRepo  repository.ModelMappingRepository
	KeyRepo      repository.APIKeyRepository
	LogRepo      repository.RequestLogRepository
	Registry     *prometheus.Registry
	Debug        bool
	Logger       *zap.Logger
}

// Server wraps the gin engine.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router with all routes configured.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger

	if deps.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())

	// Public endpoints.
	r.GET("/", handler.Root)
	r.GET("/health", handler.Health)
	if deps.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	// Proxy endpoints (API key auth).
	proxyHandler := handler.NewProxyHandler(deps.ProxyService, logger)
	modelsHandler := handler.NewModelsHandler(deps.MappingRepo, logger)
	v1 := r.Group("/v1")
	v1.Use(middleware.RequireAPIKey(deps.AuthService, deps.LogRepo, logger))
	{
		v1.POST("/chat/completions", proxyHandler.ChatCompletions)
		v1.POST("/completions", proxyHandler.Completions)
		v1.POST("/embeddings", proxyHandler.Embeddings)
		v1.POST("/messages", proxyHandler.Messages)
		v1.GET("/models", modelsHandler.List)
	}

	// Admin login flow.
	authHandler := handler.NewAuthHandler(deps.AuthService, logger)
	auth := r.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.GET("/status", middleware.RequireAdmin(deps.AuthService), authHandler.Status)
		auth.POST("/logout", authHandler.Logout)
	}

	// Admin CRUD surface (admin token auth).
	providerHandler := handler.NewProviderHandler(deps.ProviderRepo, logger)
	mappingHandler := handler.NewModelMappingHandler(deps.MappingRepo, deps.ProviderRepo, logger)
	keyHandler := handler.NewAPIKeyHandler(deps.KeyRepo, deps.AuthService, logger)
	logsHandler := handler.NewLogsHandler(deps.LogRepo, logger)

	admin := r.Group("/admin")
	admin.Use(middleware.RequireAdmin(deps.AuthService))
	{
		admin.GET("/providers", providerHandler.List)
		admin.POST("/providers", providerHandler.Create)
		admin.GET("/providers/:id", providerHandler.Get)
		admin.PUT("/providers/:id", providerHandler.Update)
		admin.DELETE("/providers/:id", providerHandler.Delete)

		admin.GET("/models", mappingHandler.List)
		admin.POST("/models", mappingHandler.Create)
		admin.GET("/models/:model", mappingHandler.Get)
		admin.PUT("/models/:model", mappingHandler.Update)
		admin.DELETE("/models/:model", mappingHandler.Delete)
		admin.POST("/models/:model/providers", mappingHandler.AddProvider)
		admin.PUT("/model-providers/:id", mappingHandler.UpdateProvider)
		admin.DELETE("/model-providers/:id", mappingHandler.DeleteProvider)

		admin.GET("/keys", keyHandler.List)
		admin.POST("/keys", keyHandler.Create)
		admin.POST("/keys/:id/active", keyHandler.SetActive)
		admin.DELETE("/keys/:id", keyHandler.Delete)

		admin.GET("/logs", logsHandler.List)
		admin.GET("/logs/:id", logsHandler.Get)
		admin.GET("/logs/trace/:trace_id", logsHandler.GetByTrace)
	}

	return &Server{router: r, logger: logger}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
