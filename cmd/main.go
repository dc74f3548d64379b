// Package main 合成行情生成服务入口
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/app"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/config"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/worker"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/logger"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (默认按 CONFIG_PATH、config/config.yaml 查找)")
	envFile    = flag.String("env-file", "", ".env 文件路径 (默认 ./.env，可不存在)")
	workerSlot = flag.Int("worker-slot", -1, "以子进程 worker 身份运行指定槽位 (内部使用)")
)

func main() {
	flag.Parse()

	// 配置加载前先用默认日志，保证致命错误可见
	if err := logger.Init(&logger.Config{Level: "info", Format: "json", ServiceName: "eidos-feedgen"}); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Service.Name,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	}); err != nil {
		logger.Fatal("failed to init logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *workerSlot >= 0 {
		runWorker(ctx, cfg, *workerSlot)
		return
	}

	logger.Info("starting service",
		zap.String("service", cfg.Service.Name),
		zap.String("env", cfg.Service.Env),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic_active", cfg.Topics.Active),
		zap.String("topic_orderbook", cfg.Topics.Orderbook),
		zap.Int("workers", cfg.Worker.Count))

	application, err := app.New(cfg, logger.L(), app.Options{WorkerArgs: workerArgs()})
	if err != nil {
		logger.Fatal("failed to create app", zap.Error(err))
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("service stopped")
}

// runWorker 子进程 worker 模式
func runWorker(ctx context.Context, cfg *config.Config, slot int) {
	log := logger.With(zap.Int("slot", slot), zap.Int("pid", os.Getpid()))
	log.Info("starting worker process")

	if err := app.RunWorker(ctx, cfg, slot, os.Getenv(worker.EnvWorkerID), log); err != nil {
		log.Error("worker exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	// 被信号终止属于正常退出
	log.Info("worker process stopped")
}

// workerArgs 透传给子进程的参数
func workerArgs() []string {
	var args []string
	if *configPath != "" {
		args = append(args, "-config="+*configPath)
	}
	if *envFile != "" {
		args = append(args, "-env-file="+*envFile)
	}
	return args
}
