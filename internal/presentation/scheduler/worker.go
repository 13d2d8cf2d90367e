// Package scheduler runs queued pipeline tasks in the background.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/siteforge-ops/siteforge-backend/internal/application"
	"github.com/siteforge-ops/siteforge-backend/internal/application/errs"
	"github.com/siteforge-ops/siteforge-backend/internal/application/interfaces"
	"github.com/siteforge-ops/siteforge-backend/internal/application/tasks"
	"github.com/siteforge-ops/siteforge-backend/internal/domain/consts"
	"github.com/siteforge-ops/siteforge-backend/internal/infra/db"
	"github.com/siteforge-ops/siteforge-backend/pkg/env"
)

type WorkerConfig struct {
	limit    int
	interval time.Duration
	leaseTTL time.Duration
}

func NewWorkerConfig() *WorkerConfig {
	limit, err := strconv.Atoi(env.GetEnv("SCHEDULER_LIMIT", "5"))
	if err != nil {
		limit = 5
	}
	interval, err := strconv.Atoi(env.GetEnv("SCHEDULER_INTERVAL", "5"))
	if err != nil {
		interval = 5
	}
	ttl, err := strconv.Atoi(env.GetEnv("SCHEDULER_LEASE_TTL", "900"))
	if err != nil {
		ttl = 900
	}
	return &WorkerConfig{
		limit:    limit,
		interval: time.Duration(interval) * time.Second,
		leaseTTL: time.Duration(ttl) * time.Second,
	}
}

// Worker polls the task queue and runs each claimed task in its own
// goroutine under a cancellable context. A per-site lease keeps two tasks
// from ever touching the same site concurrently, worker instances included.
type Worker struct {
	handlers *application.Collection
	taskq    interfaces.TaskRepo
	leases   interfaces.LeaseRepo
	cfg      *WorkerConfig
	owner    string
	stop     chan struct{}

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
}

func NewWorker(handlers *application.Collection, taskq interfaces.TaskRepo, leases interfaces.LeaseRepo, cfg *WorkerConfig) *Worker {
	hostname, _ := os.Hostname()
	return &Worker{
		handlers: handlers,
		taskq:    taskq,
		leases:   leases,
		cfg:      cfg,
		owner:    fmt.Sprintf("%v-%d", hostname, os.Getpid()),
		stop:     make(chan struct{}),
		running:  make(map[uuid.UUID]context.CancelFunc),
	}
}

func (w *Worker) Start() {
	slog.Info("Starting task worker...", "owner", w.owner)
	ticker := time.NewTicker(w.cfg.interval)
	defer ticker.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	for {
		select {
		case <-ticker.C:
			w.poll(ctx)
		case <-w.stop:
			slog.Info("Cancelling running tasks")
			cancel()
			return
		}
	}
}

func (w *Worker) Stop() {
	slog.Info("Stopping worker")
	w.stop <- struct{}{}
}

// Cancel stops a task. A running task gets its context cancelled and is
// marked by its own goroutine; a pending one is marked here. Returns false
// when the task is already finished.
func (w *Worker) Cancel(ctx context.Context, taskID uuid.UUID) (bool, error) {
	w.mu.Lock()
	cancel, isRunning := w.running[taskID]
	w.mu.Unlock()
	if isRunning {
		cancel()
		return true, nil
	}

	task, err := w.taskq.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.Status != consts.TaskStatusPending {
		return false, nil
	}
	if err = w.taskq.MarkFinished(ctx, taskID, consts.TaskStatusCancelled, "cancelled before start"); err != nil {
		return false, err
	}
	return true, nil
}

func (w *Worker) poll(ctx context.Context) {
	claimed, err := w.taskq.ClaimPending(ctx, w.cfg.limit)
	if err != nil {
		slog.Error("err claiming tasks", "err", err)
		return
	}
	for _, task := range claimed {
		taskCtx, cancel := context.WithCancel(ctx)
		w.mu.Lock()
		w.running[task.ID] = cancel
		w.mu.Unlock()

		go func(task db.Task) {
			defer func() {
				cancel()
				w.mu.Lock()
				delete(w.running, task.ID)
				w.mu.Unlock()
			}()
			w.run(taskCtx, task)
		}(task)
	}
}

func (w *Worker) run(ctx context.Context, task db.Task) {
	slog.Info("Handling task", "task", task.ID, "type", task.Type, "site", task.SiteID)

	if task.SiteID != nil {
		held, err := w.leases.Acquire(ctx, *task.SiteID, w.owner, w.cfg.leaseTTL)
		if err != nil {
			slog.Error("err acquiring lease", "task", task.ID, "err", err)
			w.finish(task.ID, err)
			return
		}
		if !held {
			slog.Info("site busy, requeueing", "task", task.ID, "site", *task.SiteID)
			if err = w.taskq.Requeue(context.Background(), task.ID); err != nil {
				slog.Error("err requeueing task", "task", task.ID, "err", err)
			}
			return
		}
		defer func() {
			if err := w.leases.Release(context.Background(), *task.SiteID, w.owner); err != nil {
				slog.Error("err releasing lease", "task", task.ID, "err", err)
			}
		}()
	}

	var err error
	switch task.Type {
	case consts.TaskConfigureDomain:
		err = w.handlers.ConfigureDomain.Handle(ctx, tasks.Unmarshal[tasks.ConfigureDomain](task))
	case consts.TaskDeploySite:
		err = w.handlers.DeploySite.Handle(ctx, tasks.Unmarshal[tasks.DeploySite](task))
	case consts.TaskBakeImage:
		err = w.handlers.BakeImage.Handle(ctx, task.ID, tasks.Unmarshal[tasks.BakeImage](task))
	case consts.TaskDeleteSite:
		err = w.handlers.DeleteSite.Handle(ctx, tasks.Unmarshal[tasks.DeleteSite](task))
	default:
		err = fmt.Errorf("unknown task type %v", task.Type)
	}

	if ctx.Err() != nil && err != nil {
		// finish with a fresh context, the task's own is already dead
		if markErr := w.taskq.MarkFinished(context.Background(), task.ID, consts.TaskStatusCancelled, err.Error()); markErr != nil {
			slog.Error("err marking task cancelled", "task", task.ID, "err", markErr)
		}
		return
	}
	w.finish(task.ID, err)
}

func (w *Worker) finish(taskID uuid.UUID, err error) {
	ctx := context.Background()
	switch {
	case err == nil:
		err = w.taskq.MarkFinished(ctx, taskID, consts.TaskStatusSucceeded, "")
	case errs.IsPartial(err):
		// the pipeline got far enough to be useful, the warning is kept
		// on the task for the operator
		slog.Warn("task finished with warning", "task", taskID, "warning", err)
		err = w.taskq.MarkFinished(ctx, taskID, consts.TaskStatusSucceeded, err.Error())
	default:
		slog.Error("task failed", "task", taskID, "err", err)
		err = w.taskq.MarkFinished(ctx, taskID, consts.TaskStatusFailed, err.Error())
	}
	if err != nil {
		slog.Error("err marking task finished", "task", taskID, "err", err)
	}
}
