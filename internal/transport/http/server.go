// Package apihttp 提供仪表盘使用的 RemoteAPI。
package apihttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"alphadesk/internal/config"
	"alphadesk/internal/engine"
	"alphadesk/internal/logger"
	"alphadesk/internal/state"
	"alphadesk/internal/store"
	"alphadesk/internal/types"

	"github.com/gin-gonic/gin"
)

// Controller 是远程命令入口，由 engine.Control 实现。
type Controller interface {
	Start(source string) engine.Ack
	Stop(source string) engine.Ack
	CloseAll(source string) engine.Ack
	CloseTicket(source, ticket, symbol string) engine.Ack
	Status() state.Snapshot
}

// ConfigStager 接收下一个 tick 边界生效的配置。
type ConfigStager interface {
	StageConfig(cfg config.EngineConfig)
}

// Store 是 API 需要的持久化子集。
type Store interface {
	SaveEngineConfig(ctx context.Context, cfg config.EngineConfig, source string) (int64, error)
	TradeHistory(ctx context.Context, q store.HistoryQuery) ([]types.TradeRecord, error)
	RecentEvents(ctx context.Context, limit int) ([]types.Event, error)
}

// Publisher 把 API 产生的事件交给通知分发器。
type Publisher interface {
	Publish(evs ...types.Event)
}

// ServerConfig 描述 RemoteAPI 依赖。
type ServerConfig struct {
	Addr    string
	Auth    *Authenticator
	Control Controller
	Stager  ConfigStager
	Store   Store
	Events  Publisher
	// EnginePath 非空时 POST /config 同时写回引擎配置文件。
	EnginePath string
	WS         http.Handler
	Metrics    http.Handler
}

// Server 是 RemoteAPI 的 HTTP 服务。
type Server struct {
	addr   string
	router *gin.Engine
}

// NewServer 构建 RemoteAPI。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Auth == nil || cfg.Control == nil || cfg.Store == nil {
		return nil, errors.New("remote api requires auth, control and store")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	if cfg.WS != nil {
		router.GET("/ws", func(c *gin.Context) {
			if err := cfg.Auth.Validate(c.Query("token")); err != nil {
				abortError(c, http.StatusUnauthorized, err)
				return
			}
			cfg.WS.ServeHTTP(c.Writer, c.Request)
		})
	}

	h := &handlers{cfg: cfg}
	api := router.Group("/api")
	api.POST("/login", h.login)
	protected := api.Group("", cfg.Auth.Middleware())
	h.register(protected)

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Handler 暴露底层路由，测试直接使用。
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger 记录每个请求的方法、路径、状态与耗时。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Debugf("[api] %s %s status=%d ip=%s dur=%s",
			c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("[api] 监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
