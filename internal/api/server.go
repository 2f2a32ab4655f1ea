package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"stratflow/internal/app/builder"
	"stratflow/internal/domain/strategy/port"
	"stratflow/internal/integration"
	applog "stratflow/internal/platform/log"
	"stratflow/internal/platform/metrics"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration // 0 表示不限制（SSE 长连接）
	JWTSecret      string        // JWT 签名密钥（必填）
	JWTIssuer      string        // JWT 签发者（可选）
	AllowedOrigins []string
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// Server HTTP 服务器
type Server struct {
	config       *ServerConfig
	repo         port.Repository
	sessions     *builder.Manager
	integrations *integration.Client
	metrics      *metrics.Collector
	httpSrv      *http.Server
}

// NewServer 创建服务器
// repo 可为 nil（已保存策略相关接口返回 503）
func NewServer(config *ServerConfig, repo port.Repository, sessions *builder.Manager, integrations *integration.Client, mc *metrics.Collector) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if sessions == nil {
		sessions = builder.NewManager(builder.DefaultConfig(), repo, nil, mc)
	}
	if integrations == nil {
		integrations = integration.NewClient(integration.DefaultConfig(), nil, mc)
	}
	return &Server{
		config:       config,
		repo:         repo,
		sessions:     sessions,
		integrations: integrations,
		metrics:      mc,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	r, err := s.buildRouter()
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Strategy builder API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	r, err := s.buildRouter()
	if err != nil {
		panic(err)
	}
	return r
}

func (s *Server) buildRouter() (http.Handler, error) {
	if strings.TrimSpace(s.config.JWTSecret) == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(s.metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-Session-ID", "Content-Disposition"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "ok",
			"sessions": s.sessions.Count(),
		})
	})
	r.Handle("/metrics", s.metrics.Handler())

	authMW := authMiddleware(&JWTConfig{
		Secret: s.config.JWTSecret,
		Issuer: s.config.JWTIssuer,
	})

	r.Group(func(r chi.Router) {
		r.Use(authMW)
		NewSessionHandler(s.sessions, s.metrics).RegisterRoutes(r)
		NewStrategyHandler(s.repo, s.sessions).RegisterRoutes(r)
		NewIntegrationHandler(s.integrations).RegisterRoutes(r)
		NewCatalogHandler().RegisterRoutes(r)
	})
	return r, nil
}
