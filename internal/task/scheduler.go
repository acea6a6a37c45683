package task

import (
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/errkind"
)

// Runner executes one batch's worth of tasks against C2/C3 and reports
// outcomes. It is supplied by the indexing pipeline; the scheduler only
// knows how to select and persist batches, not how to run them.
type Runner interface {
	// Run executes batch, invoking progress as work advances. It returns
	// per-task errors keyed by task UID (nil entry means success) and an
	// overall error if the whole batch must be aborted (§4.1.3).
	Run(batch *Batch, mustStop func() bool, progress func(BatchProgress)) (taskErrors map[uint64]*TaskError, batchErr error)
}

// Scheduler implements the operations of §4.1.1 on top of a durable
// Store, and runs the autobatching policy of §4.1.2/4.1.3 in a single
// background goroutine so that at most one batch is ever in flight.
type Scheduler struct {
	store        *Store
	maxEnqueued  int
	runner       Runner

	mu        sync.Mutex
	mustStop  bool
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewScheduler wires a Store and Runner into a Scheduler. runner may be
// nil for components (tests, Query-only tools) that never dispatch
// batches.
func NewScheduler(store *Store, maxEnqueued int, runner Runner) *Scheduler {
	return &Scheduler{
		store:       store,
		maxEnqueued: maxEnqueued,
		runner:      runner,
	}
}

// Submit writes a new task in the Enqueued state and returns it. Content
// files (§3.6) must already exist at the path the caller passes in
// contentFile before Submit is called; the scheduler does not create them.
func (s *Scheduler) Submit(kind Kind, importMethod ImportMethod, indexUID string, contentFile string) (*Task, error) {
	n, err := s.store.countEnqueued()
	if err != nil {
		return nil, err
	}
	if n >= s.maxEnqueued {
		return nil, errkind.New(errkind.ResourceLimit, "queue_full", "enqueued task count exceeds configured limit", nil)
	}

	var created *Task
	err = s.store.db.Update(func(tx *bbolt.Tx) error {
		uid, err := s.store.nextUID(tx, counterKeyNextTaskUID)
		if err != nil {
			return err
		}
		created = &Task{
			UID:          uid,
			Kind:         kind,
			ImportMethod: importMethod,
			IndexUID:     indexUID,
			ContentFile:  contentFile,
			Status:       StatusEnqueued,
			EnqueuedAt:   time.Now(),
		}
		return s.store.putTask(tx, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SubmitWithDetails is Submit plus an opaque Details payload, for task
// kinds whose runner needs more structure than a content file carries
// (DocumentDeletion's target external ids, SettingsUpdate's new
// settings).
func (s *Scheduler) SubmitWithDetails(kind Kind, indexUID string, details map[string]any) (*Task, error) {
	n, err := s.store.countEnqueued()
	if err != nil {
		return nil, err
	}
	if n >= s.maxEnqueued {
		return nil, errkind.New(errkind.ResourceLimit, "queue_full", "enqueued task count exceeds configured limit", nil)
	}

	var created *Task
	err = s.store.db.Update(func(tx *bbolt.Tx) error {
		uid, err := s.store.nextUID(tx, counterKeyNextTaskUID)
		if err != nil {
			return err
		}
		created = &Task{
			UID:        uid,
			Kind:       kind,
			IndexUID:   indexUID,
			Details:    details,
			Status:     StatusEnqueued,
			EnqueuedAt: time.Now(),
		}
		return s.store.putTask(tx, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Filter composes the query predicates of §4.1.1.
type Filter struct {
	UIDs           []uint64
	BatchUIDs      []uint64
	Statuses       []Status
	Kinds          []Kind
	IndexUIDs      []string
	CanceledBy     *uint64
	From           *uint64
	Limit          int
	Reverse        bool

	// AuthorizedIndexes, when non-nil, excludes results whose index is
	// not in the set. Tasks with no IndexUID (e.g. IndexSwap,
	// TaskCancelation) are not filtered by it: they are always included,
	// and the indexes they affect are not checked.
	AuthorizedIndexes map[string]bool
}

func matches(t *Task, f Filter) bool {
	if len(f.UIDs) > 0 && !containsUint64(f.UIDs, t.UID) {
		return false
	}
	if len(f.BatchUIDs) > 0 && !containsUint64(f.BatchUIDs, t.BatchUID) {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, t.Kind) {
		return false
	}
	if len(f.IndexUIDs) > 0 && !containsString(f.IndexUIDs, t.IndexUID) {
		return false
	}
	if f.CanceledBy != nil && t.CanceledBy != *f.CanceledBy {
		return false
	}
	if f.AuthorizedIndexes != nil {
		if t.IndexUID != "" && !f.AuthorizedIndexes[t.IndexUID] {
			return false
		}
	}
	return true
}

// QueryTasks returns tasks matching f, paginated by From/Limit.
func (s *Scheduler) QueryTasks(f Filter) ([]*Task, error) {
	all, err := s.store.allTasks()
	if err != nil {
		return nil, err
	}
	if f.Reverse {
		reverseTasks(all)
	}
	var out []*Task
	skipping := f.From != nil
	for _, t := range all {
		if skipping {
			if t.UID == *f.From {
				skipping = false
			} else {
				continue
			}
		}
		if !matches(t, f) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// QueryBatches returns batches whose constituent tasks match f.
func (s *Scheduler) QueryBatches(f Filter) ([]*Batch, error) {
	all, err := s.store.allBatches()
	if err != nil {
		return nil, err
	}
	if f.Reverse {
		reverseBatches(all)
	}
	var out []*Batch
	for _, b := range all {
		if len(f.BatchUIDs) > 0 && !containsUint64(f.BatchUIDs, b.UID) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, b.Status) {
			continue
		}
		if len(f.IndexUIDs) > 0 && !containsString(f.IndexUIDs, b.IndexUID) {
			continue
		}
		if f.AuthorizedIndexes != nil && b.IndexUID != "" && !f.AuthorizedIndexes[b.IndexUID] {
			continue
		}
		out = append(out, b)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Cancel enqueues a TaskCancelation task scoped to f. It does not cancel
// anything itself — the cancelation takes effect when the scheduler
// observes it as the next standalone batch (§4.1.1, §4.1.4).
func (s *Scheduler) Cancel(f Filter) (*Task, error) {
	targets, err := s.QueryTasks(f)
	if err != nil {
		return nil, err
	}
	ct, err := s.Submit(KindTaskCancelation, "", "", "")
	if err != nil {
		return nil, err
	}
	uids := make([]uint64, 0, len(targets))
	for _, t := range targets {
		uids = append(uids, t.UID)
	}
	err = s.store.db.Update(func(tx *bbolt.Tx) error {
		ct.Details = map[string]any{"target_uids": uids}
		return s.store.putTask(tx, ct)
	})
	return ct, err
}

// Delete enqueues a TaskDeletion task scoped to f.
func (s *Scheduler) Delete(f Filter) (*Task, error) {
	targets, err := s.QueryTasks(f)
	if err != nil {
		return nil, err
	}
	dt, err := s.Submit(KindTaskDeletion, "", "", "")
	if err != nil {
		return nil, err
	}
	uids := make([]uint64, 0, len(targets))
	for _, t := range targets {
		uids = append(uids, t.UID)
	}
	err = s.store.db.Update(func(tx *bbolt.Tx) error {
		dt.Details = map[string]any{"target_uids": uids}
		return s.store.putTask(tx, dt)
	})
	return dt, err
}

// RequestStop sets the must_stop flag the running batch polls at safe
// points (§4.1.4).
func (s *Scheduler) RequestStop() {
	s.mu.Lock()
	s.mustStop = true
	s.mu.Unlock()
}

func (s *Scheduler) checkMustStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mustStop
}

func (s *Scheduler) clearMustStop() {
	s.mu.Lock()
	s.mustStop = false
	s.mu.Unlock()
}

func containsUint64(xs []uint64, v uint64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsStatus(xs []Status, v Status) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsKind(xs []Kind, v Kind) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func reverseTasks(ts []*Task) {
	for i, j := 0, len(ts)-1; i < j; i, j = i+1, j-1 {
		ts[i], ts[j] = ts[j], ts[i]
	}
}

func reverseBatches(bs []*Batch) {
	for i, j := 0, len(bs)-1; i < j; i, j = i+1, j-1 {
		bs[i], bs[j] = bs[j], bs[i]
	}
}
