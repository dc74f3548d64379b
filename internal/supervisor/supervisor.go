// Package supervisor 负责拉起每个槽位的 worker，并在其异常退出后按原槽位重新拉起
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
)

// Handle 运行中的 worker
type Handle interface {
	// ID worker 实例 ID
	ID() string
	// Wait 阻塞直到 worker 退出
	Wait() error
}

// Launcher 按槽位启动 worker
type Launcher interface {
	Launch(ctx context.Context, slot partition.Slot) (Handle, error)
}

// LauncherFunc 函数适配器
type LauncherFunc func(ctx context.Context, slot partition.Slot) (Handle, error)

// Launch 实现 Launcher
func (f LauncherFunc) Launch(ctx context.Context, slot partition.Slot) (Handle, error) {
	return f(ctx, slot)
}

// State 槽位状态
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateTerminated State = "terminated"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

// ErrExitedCleanly worker 在未被要求停止时正常返回，同样视为异常退出
var ErrExitedCleanly = errors.New("worker exited without error while supervisor running")

// Config 监管配置
type Config struct {
	// LaunchRetryInterval 启动失败 (而非运行中崩溃) 后的重试间隔
	LaunchRetryInterval time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{LaunchRetryInterval: time.Second}
}

// SlotStatus 槽位状态快照
type SlotStatus struct {
	Index     int            `json:"index"`
	Role      partition.Role `json:"role"`
	Asset     string         `json:"asset,omitempty"`
	State     State          `json:"state"`
	WorkerID  string         `json:"worker_id,omitempty"`
	Restarts  int            `json:"restarts"`
	LastError string         `json:"last_error,omitempty"`
	StartedAt time.Time      `json:"started_at"`
}

// Supervisor worker 监管者
// 槽位号是 worker 的唯一身份，重启后的 worker 按相同槽位号恢复角色
type Supervisor struct {
	plan     *partition.Plan
	launcher Launcher
	config   Config
	logger   *zap.Logger

	mu    sync.RWMutex
	slots []SlotStatus
}

// New 创建监管者
func New(plan *partition.Plan, launcher Launcher, config Config, logger *zap.Logger) *Supervisor {
	if config.LaunchRetryInterval <= 0 {
		config.LaunchRetryInterval = DefaultConfig().LaunchRetryInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	slots := make([]SlotStatus, len(plan.Slots))
	for i, slot := range plan.Slots {
		slots[i] = SlotStatus{
			Index: slot.Index,
			Role:  slot.Role,
			Asset: slot.Asset,
			State: StateStarting,
		}
	}

	return &Supervisor{
		plan:     plan,
		launcher: launcher,
		config:   config,
		logger:   logger.Named("supervisor"),
		slots:    slots,
	}
}

// Run 为每个槽位启动 worker 并持续监管，直到 ctx 取消且所有 worker 退出
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("supervisor started",
		zap.Int("workers", len(s.plan.Slots)),
		zap.Strings("alphabet", s.plan.Alphabet),
		zap.Int("spreads", len(s.plan.Spreads)))

	var wg sync.WaitGroup
	for _, slot := range s.plan.Slots {
		wg.Add(1)
		go func(slot partition.Slot) {
			defer wg.Done()
			s.supervise(ctx, slot)
		}(slot)
	}
	wg.Wait()

	s.logger.Info("supervisor stopped")
	return nil
}

// supervise 单槽位监管循环
// 运行中退出立即重启；启动失败按 LaunchRetryInterval 重试
func (s *Supervisor) supervise(ctx context.Context, slot partition.Slot) {
	log := s.logger.With(
		zap.Int("slot", slot.Index),
		zap.Stringer("role", slot.Role),
		zap.String("asset", slot.Asset))

	crashed := false
	for {
		if ctx.Err() != nil {
			s.update(slot.Index, func(st *SlotStatus) { st.State = StateStopped })
			return
		}

		handle, err := s.launcher.Launch(ctx, slot)
		if err != nil {
			metrics.RecordLaunchFailure(slot.Index)
			log.Error("launch worker failed", zap.Error(err),
				zap.Duration("retry_in", s.config.LaunchRetryInterval))
			s.update(slot.Index, func(st *SlotStatus) { st.LastError = err.Error() })

			select {
			case <-ctx.Done():
			case <-time.After(s.config.LaunchRetryInterval):
			}
			continue
		}

		if crashed {
			metrics.RecordRestart(slot.Index, slot.Role.String())
		}
		s.update(slot.Index, func(st *SlotStatus) {
			st.State = StateRunning
			st.WorkerID = handle.ID()
			st.StartedAt = time.Now()
			if crashed {
				st.Restarts++
			}
		})
		metrics.WorkersRunning.Inc()
		log.Info("worker running", zap.String("worker_id", handle.ID()))

		err = handle.Wait()
		metrics.WorkersRunning.Dec()

		if ctx.Err() != nil {
			s.update(slot.Index, func(st *SlotStatus) { st.State = StateStopped })
			log.Info("worker stopped", zap.String("worker_id", handle.ID()))
			return
		}

		if err == nil {
			err = ErrExitedCleanly
		}
		crashed = true
		s.update(slot.Index, func(st *SlotStatus) {
			st.State = StateTerminated
			st.LastError = err.Error()
		})
		log.Error("worker terminated unexpectedly, restarting",
			zap.String("worker_id", handle.ID()), zap.Error(err))
		s.update(slot.Index, func(st *SlotStatus) { st.State = StateRestarting })
	}
}

func (s *Supervisor) update(index int, fn func(st *SlotStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.slots[index])
}

// Stats 返回所有槽位状态
func (s *Supervisor) Stats() []SlotStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SlotStatus(nil), s.slots...)
}

// Ready 所有槽位均处于运行状态
func (s *Supervisor) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.slots {
		if st.State != StateRunning {
			return false
		}
	}
	return true
}
