package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"order-relay/internal/broker"
	"order-relay/internal/config"
	"order-relay/internal/execution"
	"order-relay/internal/instrument"
	"order-relay/internal/metrics"
	"order-relay/internal/monitor"
	"order-relay/internal/position"
	"order-relay/internal/session"
)

type instrumentLoader interface {
	Load(ctx context.Context, src broker.MasterSource) (*instrument.Table, error)
}

type eventLog interface {
	RecordLogin(ctx context.Context, clientCode string, instruments int, funds string)
	RecordLogout(ctx context.Context, clientCode string)
	RecordExecution(ctx context.Context, req execution.OrderRequest, outcome execution.Outcome)
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
	ListEvents(ctx context.Context, eventType monitor.EventType, limit int) ([]monitor.Event, error)
}

// Deps 为 HTTP 层依赖。
type Deps struct {
	Sessions   *session.Store
	Auth       broker.Authenticator
	Loader     instrumentLoader
	Trader     execution.Trader
	Reconciler *position.Reconciler
	Events     eventLog
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Server 暴露前端所需的 /api 接口。
type Server struct {
	cfg          config.ServerConfig
	metricsCfg   config.MetricsConfig
	quoteSegment string
	deps         Deps
	logger       *zap.Logger
}

// NewServer 创建 HTTP 服务。
func NewServer(cfg config.ServerConfig, metricsCfg config.MetricsConfig, quoteSegment string, deps Deps) (*Server, error) {
	if deps.Sessions == nil || deps.Auth == nil || deps.Trader == nil || deps.Reconciler == nil {
		return nil, errors.New("app: sessions/auth/trader/reconciler 不能为空")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:          cfg,
		metricsCfg:   metricsCfg,
		quoteSegment: quoteSegment,
		deps:         deps,
		logger:       logger,
	}, nil
}

// Handler 返回挂载全部路由与 CORS 的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /api/get_ltp", s.handleLTP)
	mux.HandleFunc("POST /api/place_order", s.handlePlaceOrder)
	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	if s.metricsCfg.Enabled {
		mux.Handle("GET "+s.metricsCfg.Path, s.deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /{$}", s.handleIndex)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)
}

// Serve 在 ctx 结束前持续提供服务，随后优雅关闭。
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("HTTP 服务已启动", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP 服务异常: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	dir := s.cfg.StaticDir
	if dir == "" {
		dir = "."
	}
	http.ServeFile(w, r, filepath.Join(dir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}
