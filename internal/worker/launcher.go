package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/supervisor"
)

// EnvWorkerID 子进程读取的 worker 实例 ID
const EnvWorkerID = "FEEDGEN_WORKER_ID"

// SlotRunner 运行一个槽位
type SlotRunner interface {
	Run(ctx context.Context, slotIndex int) error
}

// TaskLauncher 在当前进程内以协程运行 worker
type TaskLauncher struct {
	runner SlotRunner
}

// NewTaskLauncher 创建协程启动器
func NewTaskLauncher(runner SlotRunner) *TaskLauncher {
	return &TaskLauncher{runner: runner}
}

// Launch 启动协程 worker，panic 被捕获并作为退出错误返回
func (l *TaskLauncher) Launch(ctx context.Context, slot partition.Slot) (supervisor.Handle, error) {
	h := &taskHandle{
		id:   uuid.NewString(),
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.err = fmt.Errorf("worker panic: %v\n%s", r, debug.Stack())
			}
		}()
		h.err = l.runner.Run(WithWorkerID(ctx, h.id), slot.Index)
	}()

	return h, nil
}

type taskHandle struct {
	id   string
	done chan struct{}
	err  error
}

func (h *taskHandle) ID() string { return h.id }

func (h *taskHandle) Wait() error {
	<-h.done
	return h.err
}

// ProcessLauncher 以子进程运行 worker
// 子进程以 -worker-slot=<i> 重新执行同一可执行文件
type ProcessLauncher struct {
	path      string
	args      []string
	waitDelay time.Duration
	logger    *zap.Logger
}

// NewProcessLauncher 创建子进程启动器，args 为传给子进程的公共参数
func NewProcessLauncher(args []string, waitDelay time.Duration, logger *zap.Logger) (*ProcessLauncher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessLauncher{
		path:      exe,
		args:      args,
		waitDelay: waitDelay,
		logger:    logger.Named("process_launcher"),
	}, nil
}

// Launch 启动子进程 worker
// ctx 取消时向子进程发送 SIGTERM，超过 waitDelay 仍未退出则强制结束
func (l *ProcessLauncher) Launch(ctx context.Context, slot partition.Slot) (supervisor.Handle, error) {
	id := uuid.NewString()
	args := append(append([]string(nil), l.args...), "-worker-slot="+strconv.Itoa(slot.Index))

	cmd := exec.CommandContext(ctx, l.path, args...)
	cmd.Env = append(os.Environ(), EnvWorkerID+"="+id)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = l.waitDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process for slot %d: %w", slot.Index, err)
	}

	l.logger.Info("worker process started",
		zap.Int("slot", slot.Index),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("worker_id", id))

	return &processHandle{id: id, cmd: cmd}, nil
}

type processHandle struct {
	id  string
	cmd *exec.Cmd
}

func (h *processHandle) ID() string { return h.id }

func (h *processHandle) Wait() error {
	err := h.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("worker process %d exited: %w", h.cmd.Process.Pid, err)
	}
	return err
}
