// Package pipeline implements the indexing pipeline (C2): it parses
// task content files, tokenizes and extracts per-document updates, and
// commits them to an index's tables inside the single batch write
// transaction the scheduler (C1) opens for it. It implements
// task.Runner so internal/task can dispatch batches to it without
// depending on it.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/content"
	"github.com/aman-cerp/scribe/internal/docstore"
	"github.com/aman-cerp/scribe/internal/errkind"
	"github.com/aman-cerp/scribe/internal/facet"
	"github.com/aman-cerp/scribe/internal/fstset"
	"github.com/aman-cerp/scribe/internal/kv"
	"github.com/aman-cerp/scribe/internal/task"
	"github.com/aman-cerp/scribe/internal/tokenize"
	"github.com/aman-cerp/scribe/internal/vectorindex"
)

// TaskReader is the slice of task.Store a Pipeline needs: looking up a
// task's full record given the uid a task.Batch carries.
type TaskReader interface {
	GetTask(uid uint64) (*task.Task, error)
}

// Settings is one index's configuration (the subset §4.2.2 reindexes
// around): which fields are tokenized, which are filterable, the
// primary key, and the stop-word list feeding the tokenizer.
type Settings struct {
	PrimaryKey              string
	SearchableAttributes    []string
	FilterableAttributes    []string
	StopWords               []string
	MaxPositionPerAttribute int
	FacetFanout             int
	// ProximityWindow bounds how many words apart two terms can be and
	// still get a word-pair-proximity posting (§4.4's Proximity ranking
	// rule only ever queries up to search.ProximityCapDistance, so
	// extraction need not record pairs further apart than that). 0 means
	// the default of defaultProximityWindow.
	ProximityWindow int
}

// defaultProximityWindow mirrors search.ProximityCapDistance: the
// Proximity ranking rule's buckets never look past this many words, so
// there is no value in extracting pairs beyond it.
const defaultProximityWindow = 8

// Index bundles one named index's open tables and derived helpers.
type Index struct {
	UID       string
	Store     *kv.Store
	Docs      *docstore.Store
	Fields    *docstore.FieldsMap
	Vectors   *vectorindex.Index
	Settings  Settings
	tokenizer *tokenize.Tokenizer
	facets    map[uint32]*facet.Tree
	words     *fstset.Set
	nextDocID uint64
}

// WordsFST returns the current words FST (§3.5), rebuilt after every
// commit that changes the word-bearing postings. internal/search reads
// it for edit-distance and prefix word-variant enumeration; nil means
// no words have been committed yet.
func (idx *Index) WordsFST() *fstset.Set {
	return idx.words
}

// refreshWordsFST rebuilds idx.words from tx's current word posting
// keys. Called after every commit that can add or remove words, so
// search always sees a words FST consistent with the postings it
// ranks against.
func (idx *Index) refreshWordsFST(tx *bbolt.Tx) error {
	set, err := buildWordsFST(tx)
	if err != nil {
		return err
	}
	idx.words = set
	return nil
}

// NewIndex opens an Index over an already-open kv.Store.
func NewIndex(uid string, store *kv.Store, settings Settings) *Index {
	if settings.ProximityWindow == 0 {
		settings.ProximityWindow = defaultProximityWindow
	}
	return &Index{
		UID:       uid,
		Store:     store,
		Docs:      docstore.New(store),
		Fields:    docstore.NewFieldsMap(store),
		Vectors:   vectorindex.New(),
		Settings:  settings,
		tokenizer: tokenize.New(settings.StopWords, settings.MaxPositionPerAttribute),
		facets:    make(map[uint32]*facet.Tree),
	}
}

func (idx *Index) facetTree(fieldID uint32) *facet.Tree {
	t, ok := idx.facets[fieldID]
	if !ok {
		t = facet.New(fieldID, idx.Settings.FacetFanout)
		idx.facets[fieldID] = t
	}
	return t
}

// FacetTree exposes the facet tree for fieldID, lazily creating it, for
// internal/search's filter evaluation.
func (idx *Index) FacetTree(fieldID uint32) *facet.Tree {
	return idx.facetTree(fieldID)
}

// SettingsSnapshot returns a copy of idx's current settings, read by
// internal/search for searchable-attribute ordering and the primary key.
func (idx *Index) SettingsSnapshot() Settings {
	return idx.Settings
}

func (idx *Index) allocDocID(tx *bbolt.Tx) (uint64, error) {
	idx.nextDocID++
	return idx.nextDocID, nil
}

// Pipeline dispatches batches across registered indexes.
type Pipeline struct {
	indexes      map[string]*Index
	content      *content.Store
	tasks        TaskReader
	dataDir      string
	mapSizeMB    int
	mapSizeCapMB int
}

// New builds a Pipeline backed by the given content-file store and
// task reader (used to resolve the full task records a batch names).
// dataDir is the parent directory under which each named index gets
// its own kv.Store file on IndexCreation.
func New(contentStore *content.Store, tasks TaskReader, dataDir string, mapSizeMB, mapSizeCapMB int) *Pipeline {
	return &Pipeline{
		indexes:      make(map[string]*Index),
		content:      contentStore,
		tasks:        tasks,
		dataDir:      dataDir,
		mapSizeMB:    mapSizeMB,
		mapSizeCapMB: mapSizeCapMB,
	}
}

// RegisterIndex makes idx available to batches naming its UID.
func (p *Pipeline) RegisterIndex(idx *Index) {
	p.indexes[idx.UID] = idx
}

// Index returns the registered index for uid, if any. Callers that
// also serve queries against the same on-disk state (cmd/scribed's
// combined daemon+scheduler process) use this to share one *Index
// instance rather than opening the kv.Store a second time, since
// Settings live only in memory on the Index struct and would
// otherwise diverge between the two.
func (p *Pipeline) Index(uid string) (*Index, bool) {
	idx, ok := p.indexes[uid]
	return idx, ok
}

var _ task.Runner = (*Pipeline)(nil)

// Run implements task.Runner: it processes every task in the batch in
// order, checking mustStop between documents and before each table
// commit (§4.2.4), and returns per-task errors for kinds that support
// partial success (DocumentImport with either import method,
// DocumentDeletion) rather than a batch-level error.
func (p *Pipeline) Run(batch *task.Batch, mustStop func() bool, progress func(task.BatchProgress)) (map[uint64]*task.TaskError, error) {
	taskErrs := make(map[uint64]*task.TaskError)
	total := len(batch.TaskUIDs)

	for step, uid := range batch.TaskUIDs {
		progress(task.BatchProgress{CurrentStep: step, TotalSteps: total, StepName: "run"})

		if mustStop() {
			return taskErrs, nil
		}

		t, err := p.tasks.GetTask(uid)
		if err != nil {
			return nil, err
		}

		if err := p.runTask(t, mustStop); err != nil {
			if !allowsPartialFailure(t.Kind) {
				return nil, err
			}
			taskErrs[uid] = &task.TaskError{
				Kind:    string(errkind.Of(err)),
				Message: err.Error(),
			}
		}
	}

	progress(task.BatchProgress{CurrentStep: total, TotalSteps: total, StepName: "commit"})
	return taskErrs, nil
}

func allowsPartialFailure(kind task.Kind) bool {
	return kind == task.KindDocumentImport || kind == task.KindDocumentDeletion
}

func (p *Pipeline) runTask(t *task.Task, mustStop func() bool) error {
	switch t.Kind {
	case task.KindDocumentImport:
		idx, err := p.index(t.IndexUID)
		if err != nil {
			return err
		}
		return p.runDocumentImportTask(idx, t.ContentFile, t.ImportMethod == task.ImportReplace, mustStop)
	case task.KindDocumentDeletion:
		idx, err := p.index(t.IndexUID)
		if err != nil {
			return err
		}
		return p.runDocumentDeletionTask(idx, externalIDsFromDetails(t.Details), mustStop)
	case task.KindSettingsUpdate:
		return p.runSettingsUpdateTask(t)
	case task.KindIndexCreation:
		return p.runIndexCreation(t)
	case task.KindIndexDeletion:
		return p.runIndexDeletion(t)
	default:
		return nil
	}
}

// externalIDsFromDetails extracts the "target_external_ids" list a
// DocumentDeletion task carries in Details.
func externalIDsFromDetails(details map[string]any) []string {
	return stringSliceFromAny(details["target_external_ids"])
}

// stringSliceFromAny decodes a []string out of a task.Task.Details
// value, which arrives as either a genuine []string (a task just
// Submitted in this process, not yet persisted) or a []interface{} of
// strings (every task read back via task.Store.GetTask, since
// encoding/json decodes a map[string]any's array values generically).
func stringSliceFromAny(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, e := range vs {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (p *Pipeline) index(uid string) (*Index, error) {
	idx, ok := p.indexes[uid]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "index_not_found", fmt.Sprintf("index %q not found", uid), nil)
	}
	return idx, nil
}

func (p *Pipeline) runIndexCreation(t *task.Task) error {
	if _, ok := p.indexes[t.IndexUID]; ok {
		return nil
	}
	dir := filepath.Join(p.dataDir, t.IndexUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errkind.New(errkind.Transient, "index_dir_create_failed", "failed to create index directory", err)
	}
	store, err := kv.Open(filepath.Join(dir, "index.db"), p.mapSizeMB, p.mapSizeCapMB)
	if err != nil {
		return err
	}
	p.RegisterIndex(NewIndex(t.IndexUID, store, Settings{MaxPositionPerAttribute: 1000, FacetFanout: 8}))
	return nil
}

func (p *Pipeline) runIndexDeletion(t *task.Task) error {
	if idx, ok := p.indexes[t.IndexUID]; ok {
		_ = idx.Store.Close()
	}
	delete(p.indexes, t.IndexUID)
	return nil
}
