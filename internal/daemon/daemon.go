package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aman-cerp/scribe/internal/kv"
	"github.com/aman-cerp/scribe/internal/pipeline"
	"github.com/aman-cerp/scribe/internal/search"
	"github.com/aman-cerp/scribe/internal/vectorindex"
)

// indexState bundles one open index's handles: the pipeline.Index
// backing its kv.Store/docstore/vector graph, and the search.Engine
// that queries it. This is the daemon's analogue of the teacher's
// per-project embedder+store bundle.
type indexState struct {
	uid      string
	idx      *pipeline.Index
	engine   *search.Engine
	lastUsed time.Time
}

func (s *indexState) close() error {
	if s == nil || s.idx == nil {
		return nil
	}
	var err error
	if s.idx.Vectors != nil {
		if cerr := s.idx.Vectors.Close(); cerr != nil {
			err = cerr
		}
	}
	if s.idx.Store != nil {
		if cerr := s.idx.Store.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

// IndexOpener opens the on-disk state for a named index, used the
// first time a query needs it and on every LRU-cache miss. It owns
// choosing the index's Settings; the daemon only opens and closes it.
type IndexOpener func(uid string) (*pipeline.Index, error)

// Daemon serves search.Engine queries for multiple indexes over a
// Server's Unix socket transport, keeping at most Config.MaxIndexes
// index handles open at once via LRU eviction (§4.6.3).
type Daemon struct {
	cfg    Config
	open   IndexOpener
	engCfg search.Config

	mu      sync.RWMutex
	indexes *lru.Cache[string, *indexState]

	server     *Server
	compaction *CompactionManager
	started    time.Time
	pidFile    *PIDFile

	stopOnce sync.Once
}

// DaemonOption customizes a Daemon at construction.
type DaemonOption func(*Daemon)

// WithEngineConfig overrides the search.Config every index's engine is
// constructed with; the zero value uses search.DefaultConfig.
func WithEngineConfig(cfg search.Config) DaemonOption {
	return func(d *Daemon) { d.engCfg = cfg }
}

// NewDaemon creates a Daemon that opens indexes on demand via open.
func NewDaemon(cfg Config, open IndexOpener, opts ...DaemonOption) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		cfg:     cfg,
		open:    open,
		pidFile: NewPIDFile(cfg.PIDPath),
	}
	for _, opt := range opts {
		opt(d)
	}

	cache, err := lru.NewWithEvict[string, *indexState](cfg.MaxIndexes, func(uid string, state *indexState) {
		slog.Debug("evicting index from cache", slog.String("index", uid))
		if err := state.close(); err != nil {
			slog.Warn("failed to close evicted index", slog.String("index", uid), slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index cache: %w", err)
	}
	d.indexes = cache

	d.compaction = NewCompactionManager(d, cfg.Compaction)
	d.server = newServerOrNil(cfg.SocketPath)
	return d, nil
}

func newServerOrNil(socketPath string) *Server {
	srv, err := NewServer(socketPath)
	if err != nil {
		return nil
	}
	return srv
}

// acquire returns the open index state for uid, opening and caching it
// on a miss. Callers must not hold it across a later acquire call,
// since eviction can close it concurrently.
func (d *Daemon) acquire(uid string) (*indexState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state, ok := d.indexes.Get(uid); ok {
		state.lastUsed = time.Now()
		return state, nil
	}

	idx, err := d.open(uid)
	if err != nil {
		return nil, err
	}

	engCfg := d.engCfg
	state := &indexState{
		uid:      uid,
		idx:      idx,
		lastUsed: time.Now(),
	}
	state.engine = search.NewEngine(indexHandle(idx), engCfg)
	d.indexes.Add(uid, state)
	return state, nil
}

// peekIndex returns uid's state without marking it most-recently-used,
// for the CompactionManager to inspect without disturbing LRU order.
func (d *Daemon) peekIndex(uid string) (*indexState, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.indexes.Peek(uid)
}

// indexHandle adapts a pipeline.Index into the plain struct of fields
// and closures search.Engine reads, keeping internal/search free of an
// import-cycle-forcing dependency on internal/pipeline.
func indexHandle(idx *pipeline.Index) search.IndexHandle {
	return search.IndexHandle{
		Store:     idx.Store,
		Docs:      idx.Docs,
		Fields:    idx.Fields,
		Vectors:   idx.Vectors,
		Words:     idx.WordsFST,
		FacetTree: idx.FacetTree,
		Settings: func() search.IndexSettings {
			s := idx.SettingsSnapshot()
			return search.IndexSettings{
				SearchableAttributes: s.SearchableAttributes,
				FilterableAttributes: s.FilterableAttributes,
			}
		},
	}
}

// Start opens the Unix socket, registers itself as the RequestHandler,
// and serves until ctx is cancelled, mirroring the teacher's PID-file
// discipline (stale socket/PID cleanup on startup, removal on exit).
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.cfg.EnsureDir(); err != nil {
		return err
	}

	startLock := NewStartLock(d.cfg)
	acquired, err := startLock.TryAcquire()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another daemon start is already in progress for %s", d.cfg.PIDPath)
	}
	defer func() { _ = startLock.Release() }()

	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer func() { _ = d.pidFile.Remove() }()

	d.started = time.Now()
	d.server.SetHandler(d)
	d.compaction.Start(ctx)
	defer d.compaction.Stop()

	return d.server.ListenAndServe(ctx)
}

// Stop requests graceful shutdown, closing every open index.
func (d *Daemon) Stop() error {
	var err error
	d.stopOnce.Do(func() {
		if d.server != nil {
			err = d.server.Close()
		}
		d.cleanup()
	})
	return err
}

// cleanup closes every open index and empties the cache.
func (d *Daemon) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, uid := range d.indexes.Keys() {
		if state, ok := d.indexes.Peek(uid); ok {
			_ = state.close()
		}
	}
	d.indexes.Purge()
}

// HandleSearch implements RequestHandler.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	state, err := d.acquire(params.Index)
	if err != nil {
		return nil, fmt.Errorf("no index found for %q: %w", params.Index, err)
	}
	d.compaction.InterruptCompaction(params.Index)
	defer d.compaction.OnSearchComplete(params.Index)

	res, err := state.engine.Search(ctx, search.Query{
		Text:          params.Query,
		Limit:         params.Limit,
		Offset:        params.Offset,
		Filters:       params.Filters,
		SortField:     params.SortField,
		SortDesc:      params.SortDesc,
		SemanticRatio: params.SemanticRatio,
	})
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = SearchResult{
			ExternalID: hit.ExternalID,
			Document:   hit.Document,
			Score:      hit.Score,
			FromVector: hit.FromVector,
		}
	}
	return out, nil
}

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.RLock()
	loaded := d.indexes.Len()
	d.mu.RUnlock()

	return StatusResult{
		Running:       true,
		PID:           os.Getpid(),
		Uptime:        time.Since(d.started).Round(time.Second).String(),
		IndexesLoaded: loaded,
	}
}

// OpenFromDataDir builds an IndexOpener reading/writing each index's
// kv.Store and vector graph under dataDir/<uid>/, using the same
// settings for every index. This is the simple single-tenant layout
// cmd/scribed uses; multi-tenant deployments with per-index settings
// should supply their own IndexOpener.
func OpenFromDataDir(dataDir string, settings pipeline.Settings, mapSizeMB, mapSizeCapMB int) IndexOpener {
	return func(uid string) (*pipeline.Index, error) {
		dir := filepath.Join(dataDir, uid)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", err)
		}

		store, err := kv.Open(filepath.Join(dir, "index.db"), mapSizeMB, mapSizeCapMB)
		if err != nil {
			return nil, fmt.Errorf("failed to open index store: %w", err)
		}

		idx := pipeline.NewIndex(uid, store, settings)

		vecDir := filepath.Join(dir, "vectors")
		if loaded, err := loadVectorsIfPresent(vecDir); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load vector index: %w", err)
		} else if loaded != nil {
			idx.Vectors = loaded
		}

		return idx, nil
	}
}

// loadVectorsIfPresent loads a previously-saved vectorindex.Index from
// dir, returning (nil, nil) if dir has never been written to (a brand
// new index with no vectors yet).
func loadVectorsIfPresent(dir string) (*vectorindex.Index, error) {
	if _, err := os.Stat(filepath.Join(dir, "meta.gob")); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return vectorindex.Load(dir)
}
