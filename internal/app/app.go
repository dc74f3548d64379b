// Package app 组装 feedgen 服务: 分区规划、worker 监管与管理端口
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/config"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/supervisor"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/worker"
)

// shutdownTimeout HTTP 端口优雅关闭超时
const shutdownTimeout = 5 * time.Second

// App feedgen 协调进程
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	plan       *partition.Plan
	supervisor *supervisor.Supervisor

	engine   *gin.Engine
	admin    *httpServer // nil 表示关闭管理端口
	reporter *statusReporter
}

// Options 启动选项
type Options struct {
	// WorkerArgs process 模式下传给子进程的公共参数
	WorkerArgs []string
}

// New 创建应用
func New(cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	plan, err := partition.New(cfg.Worker.Count)
	if err != nil {
		return nil, err
	}

	launcher, err := newLauncher(cfg, plan, logger, opts)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		plan:   plan,
		supervisor: supervisor.New(plan, launcher, supervisor.Config{
			LaunchRetryInterval: cfg.Worker.LaunchRetryInterval,
		}, logger),
	}
	if cfg.Service.StatusReport != "" {
		if a.reporter, err = newStatusReporter(cfg.Service.StatusReport, a.supervisor, logger); err != nil {
			return nil, err
		}
	}

	// 端口占用在启动任何 worker 之前报错
	if err := a.initHTTPServer(); err != nil {
		return nil, err
	}

	logger.Info("app initialized",
		zap.Int("workers", plan.WorkerCount),
		zap.Strings("alphabet", plan.Alphabet),
		zap.Int("spreads", len(plan.Spreads)),
		zap.String("worker_mode", cfg.Worker.Mode),
		zap.String("kafka_driver", cfg.Kafka.Driver))

	return a, nil
}

func newLauncher(cfg *config.Config, plan *partition.Plan, logger *zap.Logger, opts Options) (supervisor.Launcher, error) {
	switch cfg.Worker.Mode {
	case config.WorkerModeProcess:
		// 子进程需要在 close_timeout 内冲刷投递，额外留出 1s
		return worker.NewProcessLauncher(opts.WorkerArgs, cfg.Kafka.Producer.CloseTimeout+time.Second, logger)
	case config.WorkerModeGoroutine, "":
		return worker.NewTaskLauncher(worker.NewRunner(cfg, plan, logger)), nil
	default:
		return nil, fmt.Errorf("unknown worker mode: %s", cfg.Worker.Mode)
	}
}

// initHTTPServer 初始化并绑定管理端口
func (a *App) initHTTPServer() error {
	if a.cfg.Service.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	a.engine = gin.New()
	a.engine.Use(gin.Recovery())
	newAdminHandler(a.plan, a.supervisor).register(a.engine)

	if a.cfg.Service.HTTPPort <= 0 {
		return nil
	}
	admin, err := listenHTTP(a.cfg.Service.HTTPPort, a.engine, a.logger.Named("admin"))
	if err != nil {
		return fmt.Errorf("admin http server: %w", err)
	}
	a.admin = admin
	return nil
}

// Engine 返回 Gin 引擎 (用于测试)
func (a *App) Engine() *gin.Engine {
	return a.engine
}

// Plan 返回分区规划
func (a *App) Plan() *partition.Plan {
	return a.plan
}

// Run 运行 worker 监管与管理端口，直到 ctx 取消
// 管理端口异常只记录日志，worker 继续运行
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.reporter != nil {
		a.reporter.start()
		defer a.reporter.stop()
	}

	g.Go(func() error {
		return a.supervisor.Run(gctx)
	})

	if a.admin != nil {
		g.Go(func() error {
			a.admin.serve(gctx)
			return nil
		})
	}

	return g.Wait()
}

// RunWorker 在子进程中运行单个槽位 worker
// 配置了 metrics_base_port 时在 base+slot 端口暴露本进程的 /metrics
func RunWorker(ctx context.Context, cfg *config.Config, slotIndex int, workerID string, logger *zap.Logger) error {
	plan, err := partition.New(cfg.Worker.Count)
	if err != nil {
		return err
	}
	if _, err := plan.Slot(slotIndex); err != nil {
		return err
	}
	if workerID != "" {
		ctx = worker.WithWorkerID(ctx, workerID)
	}

	if base := cfg.Worker.MetricsBasePort; base > 0 {
		metricsCtx, stop := context.WithCancel(ctx)
		done := serveWorkerMetrics(metricsCtx, base+slotIndex, logger)
		defer func() {
			stop()
			<-done
		}()
	}

	return worker.NewRunner(cfg, plan, logger).Run(ctx, slotIndex)
}

// serveWorkerMetrics 子进程指标端口，绑定失败不影响发布
func serveWorkerMetrics(ctx context.Context, port int, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})

	engine := gin.New()
	engine.Use(gin.Recovery())
	registerMetrics(engine)

	srv, err := listenHTTP(port, engine, logger.Named("metrics"))
	if err != nil {
		logger.Warn("worker metrics disabled", zap.Error(err))
		close(done)
		return done
	}

	go func() {
		defer close(done)
		srv.serve(ctx)
	}()
	return done
}
