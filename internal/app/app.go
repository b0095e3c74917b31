package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"order-relay/internal/broker/neo"
	"order-relay/internal/config"
	"order-relay/internal/execution"
	"order-relay/internal/instrument"
	"order-relay/internal/metrics"
	"order-relay/internal/monitor"
	"order-relay/internal/position"
	"order-relay/internal/session"
	"order-relay/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。store 为 nil 时不记录监控事件。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装各组件并启动 HTTP 服务，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("委托中继已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("port", a.cfg.Server.Port),
		zap.Duration("slice_interval", a.cfg.Execution.SliceInterval),
	)

	srv, err := a.buildServer(ctx)
	if err != nil {
		return err
	}

	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func (a *App) buildServer(ctx context.Context) (*Server, error) {
	m := metrics.New()

	deps := Deps{
		Sessions: session.NewStore(),
		Auth:     neo.NewAuthenticator(a.cfg.Broker, m.ObserveGatewayCall, a.logger.Named("neo")),
		Loader: instrument.NewLoader(
			a.cfg.Broker.MasterSegment,
			a.cfg.Broker.MasterDownload,
			a.logger.Named("instrument"),
		),
		Trader: execution.NewSlicer(
			execution.FixedInterval(a.cfg.Execution.SliceInterval),
			execution.Defaults{
				Segment:     a.cfg.Execution.DefaultSegment,
				Product:     a.cfg.Execution.DefaultProduct,
				Validity:    a.cfg.Execution.Validity,
				MaxChildren: a.cfg.Execution.MaxChildren,
			},
			m,
			a.logger.Named("execution"),
		),
		Reconciler: position.NewReconciler(a.cfg.Broker.QuoteSegment, m, a.logger.Named("position")),
		Metrics:    m,
		Logger:     a.logger.Named("http"),
	}

	if a.store != nil {
		events, err := monitor.NewService(ctx, a.store, a.logger.Named("monitor"))
		if err != nil {
			return nil, err
		}
		deps.Events = events
	}

	return NewServer(a.cfg.Server, a.cfg.Metrics, a.cfg.Broker.QuoteSegment, deps)
}
