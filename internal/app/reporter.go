package app

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/supervisor"
)

// statusReporter 定时输出 worker 状态汇总
type statusReporter struct {
	cron    *cron.Cron
	workers workerStats
	logger  *zap.Logger
}

// newStatusReporter 按 cron 表达式创建 (支持秒级，如 "@every 1m"、"0 */5 * * * *")
func newStatusReporter(schedule string, workers workerStats, logger *zap.Logger) (*statusReporter, error) {
	r := &statusReporter{
		cron:    cron.New(cron.WithSeconds()),
		workers: workers,
		logger:  logger.Named("status_reporter"),
	}
	if _, err := r.cron.AddFunc(schedule, r.report); err != nil {
		return nil, fmt.Errorf("invalid status report schedule %q: %w", schedule, err)
	}
	return r, nil
}

func (r *statusReporter) start() {
	r.cron.Start()
}

func (r *statusReporter) stop() {
	<-r.cron.Stop().Done()
}

// summarize 统计各状态槽位数与累计重启次数
func summarize(stats []supervisor.SlotStatus) (map[supervisor.State]int, int) {
	states := make(map[supervisor.State]int)
	restarts := 0
	for _, st := range stats {
		states[st.State]++
		restarts += st.Restarts
	}
	return states, restarts
}

func (r *statusReporter) report() {
	stats := r.workers.Stats()
	states, restarts := summarize(stats)
	r.logger.Info("worker status",
		zap.Int("workers", len(stats)),
		zap.Int("running", states[supervisor.StateRunning]),
		zap.Int("restarting", states[supervisor.StateRestarting]+states[supervisor.StateTerminated]),
		zap.Int("starting", states[supervisor.StateStarting]),
		zap.Int("restarts_total", restarts),
		zap.Bool("ready", r.workers.Ready()))
}
