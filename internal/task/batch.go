package task

import (
	"time"

	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/errkind"
)

// selectBatch implements the autobatching priority order of §4.1.2 over
// the current enqueued set. It returns nil if nothing is enqueued.
func selectBatch(enqueued []*Task) []*Task {
	if len(enqueued) == 0 {
		return nil
	}

	// Priority 1-2: any pending standalone task runs alone, cancelation
	// before snapshot/dump creation.
	var standalone *Task
	for _, t := range enqueued {
		if !isStandalone(t.Kind) {
			continue
		}
		if standalone == nil || standalonePriority(t.Kind) < standalonePriority(standalone.Kind) {
			standalone = t
		}
	}
	if standalone != nil {
		return []*Task{standalone}
	}

	// Priority 3: greedy walk from the oldest task over same-index,
	// compatible-kind tasks. enqueued is assumed sorted by UID ascending
	// (Store.allTasks guarantees this).
	t0 := enqueued[0]

	if t0.Kind == KindIndexSwap {
		return []*Task{t0}
	}

	if t0.Kind == KindIndexDeletion {
		batch := []*Task{t0}
		for _, t := range enqueued[1:] {
			if t.IndexUID == t0.IndexUID {
				// Superseded: caller marks these Canceled rather than
				// running them, per §4.1.2.
				batch = append(batch, t)
				continue
			}
			break
		}
		return batch
	}

	batch := []*Task{t0}
	for _, t := range enqueued[1:] {
		if t.IndexUID != t0.IndexUID {
			break
		}
		if !extends(t0.Kind, t0.ImportMethod, t.Kind, t.ImportMethod) {
			break
		}
		batch = append(batch, t)
	}
	return batch
}

// RunNext selects and runs the next batch, if any. It returns false when
// there was nothing enqueued to run. This is meant to be called in a
// loop by the daemon's scheduling goroutine; the scheduler itself holds
// no internal polling timer.
func (s *Scheduler) RunNext() (ran bool, err error) {
	defer s.clearMustStop()

	tasks, err := s.store.allTasks()
	if err != nil {
		return false, err
	}
	var enqueued []*Task
	for _, t := range tasks {
		if t.Status == StatusEnqueued {
			enqueued = append(enqueued, t)
		}
	}
	selected := selectBatch(enqueued)
	if len(selected) == 0 {
		return false, nil
	}

	if selected[0].Kind == KindIndexDeletion && len(selected) > 1 {
		return true, s.supersedeIndexDeletionBatch(selected)
	}

	batch, err := s.openBatch(selected)
	if err != nil {
		return false, err
	}

	if s.runner == nil {
		return false, errkind.New(errkind.Inconsistency, "no_runner", "scheduler has no runner configured", nil)
	}

	taskErrs, batchErr := s.runner.Run(batch, s.checkMustStop, func(p BatchProgress) {
		batch.Progress = p
		s.updateBatchProgress(batch.UID, p)
	})

	if batchErr != nil {
		return true, s.failBatch(batch, batchErr)
	}
	if s.checkMustStop() {
		return true, s.cancelBatch(batch)
	}
	return true, s.completeBatch(batch, taskErrs)
}

func (s *Scheduler) supersedeIndexDeletionBatch(selected []*Task) error {
	now := time.Now()
	return s.store.db.Update(func(tx *bbolt.Tx) error {
		head := selected[0]
		head.Status = StatusProcessing
		head.StartedAt = &now
		if err := s.store.putTask(tx, head); err != nil {
			return err
		}
		for _, t := range selected[1:] {
			t.Status = StatusCanceled
			t.FinishedAt = &now
			t.Details = map[string]any{"reason": "superseded"}
			if err := s.store.putTask(tx, t); err != nil {
				return err
			}
		}
		head.Status = StatusSucceeded
		head.FinishedAt = &now
		return s.store.putTask(tx, head)
	})
}

func (s *Scheduler) openBatch(selected []*Task) (*Batch, error) {
	now := time.Now()
	var batch *Batch
	err := s.store.db.Update(func(tx *bbolt.Tx) error {
		uid, err := s.store.nextUID(tx, counterKeyNextBatchUID)
		if err != nil {
			return err
		}
		uids := make([]uint64, len(selected))
		for i, t := range selected {
			uids[i] = t.UID
		}
		batch = &Batch{
			UID:       uid,
			TaskUIDs:  uids,
			IndexUID:  selected[0].IndexUID,
			Status:    StatusProcessing,
			StartedAt: &now,
		}
		if err := s.store.putBatch(tx, batch); err != nil {
			return err
		}
		for _, t := range selected {
			t.Status = StatusProcessing
			t.BatchUID = batch.UID
			t.StartedAt = &now
			if err := s.store.putTask(tx, t); err != nil {
				return err
			}
		}
		return nil
	})
	return batch, err
}

func (s *Scheduler) updateBatchProgress(batchUID uint64, p BatchProgress) {
	_ = s.store.db.Update(func(tx *bbolt.Tx) error {
		b, err := s.store.GetBatch(batchUID)
		if err != nil {
			return nil // best effort; batch may have just finished
		}
		b.Progress = p
		return s.store.putBatch(tx, b)
	})
}

// completeBatch commits success/failure per task (§4.1.3): partial
// success within a batch is only meaningful for DocumentImport (either
// import method) and DocumentDeletion, whose per-document counts are carried in
// TaskError/Details by the runner; other kinds are all-or-nothing.
func (s *Scheduler) completeBatch(batch *Batch, taskErrs map[uint64]*TaskError) error {
	now := time.Now()
	return s.store.db.Update(func(tx *bbolt.Tx) error {
		anyFailed := false
		for _, uid := range batch.TaskUIDs {
			t, err := s.store.GetTask(uid)
			if err != nil {
				return err
			}
			t.FinishedAt = &now
			if terr, failed := taskErrs[uid]; failed && terr != nil {
				t.Status = StatusFailed
				t.Error = terr
				anyFailed = true
			} else {
				t.Status = StatusSucceeded
			}
			if err := s.store.putTask(tx, t); err != nil {
				return err
			}
		}
		batch.FinishedAt = &now
		if anyFailed {
			batch.Status = StatusFailed
		} else {
			batch.Status = StatusSucceeded
		}
		return s.store.putBatch(tx, batch)
	})
}

// failBatch implements the whole-batch abort path of §4.1.3: the write
// transaction is aborted by the runner, so the scheduler re-opens the
// task store in a fresh transaction and marks every task Failed with
// the captured error.
func (s *Scheduler) failBatch(batch *Batch, batchErr error) error {
	now := time.Now()
	kind := errkind.Of(batchErr)
	terr := &TaskError{Kind: string(kind), Message: batchErr.Error()}
	return s.store.db.Update(func(tx *bbolt.Tx) error {
		for _, uid := range batch.TaskUIDs {
			t, err := s.store.GetTask(uid)
			if err != nil {
				return err
			}
			t.Status = StatusFailed
			t.Error = terr
			t.FinishedAt = &now
			if err := s.store.putTask(tx, t); err != nil {
				return err
			}
		}
		batch.Status = StatusFailed
		batch.FinishedAt = &now
		return s.store.putBatch(tx, batch)
	})
}

// cancelBatch implements the must_stop path of §4.1.4: in-flight work is
// abandoned, the batch is re-opened as Canceled, and its tasks revert to
// Canceled rather than Failed.
func (s *Scheduler) cancelBatch(batch *Batch) error {
	now := time.Now()
	return s.store.db.Update(func(tx *bbolt.Tx) error {
		for _, uid := range batch.TaskUIDs {
			t, err := s.store.GetTask(uid)
			if err != nil {
				return err
			}
			t.Status = StatusCanceled
			t.FinishedAt = &now
			if err := s.store.putTask(tx, t); err != nil {
				return err
			}
		}
		batch.Status = StatusCanceled
		batch.FinishedAt = &now
		return s.store.putBatch(tx, batch)
	})
}
