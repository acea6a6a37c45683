package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CompactionManager manages automatic background compaction of idle
// indexes' vector graphs (§4.6).
//
// Compaction runs automatically when:
// 1. An index becomes idle (no searches for IdleTimeout duration).
// 2. Its orphan ratio exceeds Config.OrphanThreshold.
// 3. Its minimum orphan count is met (avoids small-graph churn).
// 4. The cooldown period has elapsed since its last compaction.
//
// Compaction is interruptible: any search request cancels an
// in-progress compaction of that index.
type CompactionManager struct {
	config CompactionConfig
	daemon *Daemon

	mu      sync.Mutex
	indexes map[string]*compactionState

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// compactionState tracks compaction eligibility per index.
type compactionState struct {
	uid         string
	lastSearch  time.Time
	lastCompact time.Time

	idleTimer *time.Timer

	compacting bool
	cancelFunc context.CancelFunc
}

// NewCompactionManager creates a new compaction manager.
func NewCompactionManager(daemon *Daemon, cfg CompactionConfig) *CompactionManager {
	return &CompactionManager{
		config:  cfg,
		daemon:  daemon,
		indexes: make(map[string]*compactionState),
	}
}

// Start initializes the compaction manager.
func (m *CompactionManager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	slog.Debug("compaction manager started",
		slog.Bool("enabled", m.config.Enabled),
		slog.Float64("orphan_threshold", m.config.OrphanThreshold),
		slog.Int("min_orphan_count", m.config.MinOrphanCount))
}

// Stop gracefully shuts down the compaction manager, waiting for any
// in-progress compaction to complete or cancel.
func (m *CompactionManager) Stop() {
	m.stopOnce.Do(func() {
		slog.Debug("compaction manager stopping")

		if m.cancel != nil {
			m.cancel()
		}

		m.mu.Lock()
		for _, state := range m.indexes {
			if state.idleTimer != nil {
				state.idleTimer.Stop()
			}
			if state.cancelFunc != nil {
				state.cancelFunc()
			}
		}
		m.mu.Unlock()

		m.wg.Wait()
		slog.Debug("compaction manager stopped")
	})
}

// OnSearchComplete is called after each search to reset uid's idle
// timer, enabling idle detection for triggering compaction.
func (m *CompactionManager) OnSearchComplete(uid string) {
	if !m.config.Enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.indexes[uid]
	if !ok {
		state = &compactionState{uid: uid}
		m.indexes[uid] = state
	}

	state.lastSearch = time.Now()

	if state.idleTimer != nil {
		state.idleTimer.Stop()
	}

	idleTimeout, err := time.ParseDuration(m.config.IdleTimeout)
	if err != nil {
		idleTimeout = 30 * time.Second
	}

	state.idleTimer = time.AfterFunc(idleTimeout, func() {
		m.onIdle(uid)
	})
}

// InterruptCompaction stops ongoing compaction for uid, called when a
// search request comes in while it is compacting.
func (m *CompactionManager) InterruptCompaction(uid string) {
	if !m.config.Enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.indexes[uid]
	if !ok || !state.compacting {
		return
	}

	if state.cancelFunc != nil {
		slog.Debug("interrupting compaction for search", slog.String("index", uid))
		state.cancelFunc()
	}
}

// onIdle is called when an index becomes idle (no searches).
func (m *CompactionManager) onIdle(uid string) {
	if !m.shouldCompact(uid) {
		return
	}
	m.startCompaction(uid)
}

// shouldCompact determines if compaction should run for uid.
func (m *CompactionManager) shouldCompact(uid string) bool {
	if !m.config.Enabled {
		return false
	}

	select {
	case <-m.ctx.Done():
		return false
	default:
	}

	m.mu.Lock()
	state, ok := m.indexes[uid]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if state.compacting {
		m.mu.Unlock()
		return false
	}

	cooldown, err := time.ParseDuration(m.config.Cooldown)
	if err != nil {
		cooldown = time.Hour
	}
	if time.Since(state.lastCompact) < cooldown {
		m.mu.Unlock()
		slog.Debug("compaction skipped: cooldown active",
			slog.String("index", uid),
			slog.Duration("remaining", cooldown-time.Since(state.lastCompact)))
		return false
	}
	m.mu.Unlock()

	idxState, ok := m.daemon.peekIndex(uid)
	if !ok || idxState == nil || idxState.idx == nil || idxState.idx.Vectors == nil {
		return false
	}

	orphanCount, totalCount, ratio := m.getOrphanStats(idxState)
	if orphanCount < m.config.MinOrphanCount {
		slog.Debug("compaction skipped: below minimum orphan count",
			slog.String("index", uid),
			slog.Int("orphans", orphanCount),
			slog.Int("min_required", m.config.MinOrphanCount))
		return false
	}
	if ratio < m.config.OrphanThreshold {
		slog.Debug("compaction skipped: below threshold",
			slog.String("index", uid),
			slog.Float64("ratio", ratio),
			slog.Float64("threshold", m.config.OrphanThreshold))
		return false
	}

	slog.Info("compaction eligible",
		slog.String("index", uid),
		slog.Int("orphans", orphanCount),
		slog.Int("total", totalCount),
		slog.Float64("ratio", ratio))
	return true
}

// getOrphanStats aggregates orphan stats across every embedder graph
// idxState's vector index holds, since an index can serve more than
// one embedder (§3.5).
func (m *CompactionManager) getOrphanStats(idxState *indexState) (orphanCount, totalCount int, ratio float64) {
	for _, embedder := range idxState.idx.Vectors.Embedders() {
		stats := idxState.idx.Vectors.Stats(embedder)
		orphanCount += stats.Orphans
		totalCount += stats.GraphNodes
	}
	if totalCount == 0 {
		return 0, 0, 0
	}
	return orphanCount, totalCount, float64(orphanCount) / float64(totalCount)
}

// startCompaction begins background compaction for uid.
func (m *CompactionManager) startCompaction(uid string) {
	m.mu.Lock()
	state := m.indexes[uid]
	if state == nil || state.compacting {
		m.mu.Unlock()
		return
	}

	state.compacting = true
	ctx, cancel := context.WithCancel(m.ctx)
	state.cancelFunc = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			state.compacting = false
			state.cancelFunc = nil
			m.mu.Unlock()
		}()

		m.runCompaction(ctx, uid)
	}()
}

// runCompaction rebuilds every embedder graph of uid's vector index in
// place via vectorindex.Index.Compact, checking for interruption
// between embedders since a search on uid cancels ctx.
func (m *CompactionManager) runCompaction(ctx context.Context, uid string) {
	start := time.Now()
	slog.Info("background compaction starting", slog.String("index", uid))

	idxState, ok := m.daemon.peekIndex(uid)
	if !ok || idxState == nil || idxState.idx == nil || idxState.idx.Vectors == nil {
		slog.Warn("compaction failed: index not found", slog.String("index", uid))
		return
	}

	compacted := 0
	for _, embedder := range idxState.idx.Vectors.Embedders() {
		select {
		case <-ctx.Done():
			slog.Debug("compaction interrupted", slog.String("index", uid))
			return
		default:
		}

		before := idxState.idx.Vectors.Stats(embedder)
		if before.GraphNodes == 0 {
			continue
		}
		if err := idxState.idx.Vectors.Compact(embedder); err != nil {
			slog.Warn("compaction failed for embedder",
				slog.String("index", uid), slog.String("embedder", embedder), slog.String("error", err.Error()))
			continue
		}
		compacted++
	}

	m.mu.Lock()
	if state, ok := m.indexes[uid]; ok {
		state.lastCompact = time.Now()
	}
	m.mu.Unlock()

	slog.Info("background compaction complete",
		slog.String("index", uid),
		slog.Int("embedders_compacted", compacted),
		slog.Duration("duration", time.Since(start)))
}
