package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/aman-cerp/scribe/internal/config"
	"github.com/aman-cerp/scribe/internal/content"
	"github.com/aman-cerp/scribe/internal/pipeline"
	"github.com/aman-cerp/scribe/internal/task"
)

// app bundles the durable task queue, content-file store, and indexing
// pipeline that every task-submitting subcommand needs, opened against
// one Config.Store.DataDir the way cmd/amanmcp's runIndexInternal opens
// its dependencies inline, but factored out since scribed has several
// commands that need the same bundle.
type app struct {
	cfg       *config.Config
	store     *task.Store
	content   *content.Store
	pipeline  *pipeline.Pipeline
	scheduler *task.Scheduler
}

// openApp opens the on-disk task store, content directory, and
// pipeline rooted at cfg.Store.DataDir, creating them on first use.
func openApp(cfg *config.Config) (*app, error) {
	dataDir := cfg.Store.DataDir

	store, err := task.OpenStore(filepath.Join(dataDir, "tasks.db"), cfg.Queue.TaskDBMapSizeMB)
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}

	contentStore, err := content.New(filepath.Join(dataDir, "content"))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open content store: %w", err)
	}

	pl := pipeline.New(contentStore, store, filepath.Join(dataDir, "indexes"),
		cfg.Store.IndexMapSizeMB, cfg.Store.IndexMapSizeCapMB)
	sched := task.NewScheduler(store, cfg.Queue.MaxEnqueued, pl)

	return &app{
		cfg:       cfg,
		store:     store,
		content:   contentStore,
		pipeline:  pl,
		scheduler: sched,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// submitAndDrain submits a task and runs the scheduler's dispatch loop
// inline until that task leaves Enqueued/Processing, for one-shot CLI
// invocations that have no long-running scheduler goroutine backing
// them (that role belongs to `scribed daemon start`, §4.1.3's
// "dispatches each batch" loop running continuously instead).
func (a *app) submitAndDrain(submit func() (*task.Task, error)) (*task.Task, error) {
	t, err := submit()
	if err != nil {
		return nil, err
	}

	for {
		cur, err := a.getTask(t.UID)
		if err != nil {
			return nil, err
		}
		if cur.Status != task.StatusEnqueued && cur.Status != task.StatusProcessing {
			return cur, nil
		}
		ran, err := a.scheduler.RunNext()
		if err != nil {
			return nil, err
		}
		if !ran {
			return cur, nil
		}
	}
}

func (a *app) getTask(uid uint64) (*task.Task, error) {
	tasks, err := a.scheduler.QueryTasks(task.Filter{UIDs: []uint64{uid}})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("task %d vanished", uid)
	}
	return tasks[0], nil
}
