package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aman-cerp/scribe/internal/content"
	"github.com/aman-cerp/scribe/internal/errkind"
	"github.com/aman-cerp/scribe/internal/kv"
	"github.com/aman-cerp/scribe/internal/task"
)

// fakeTasks is the minimal TaskReader a test batch needs: a fixed map
// from uid to task, the way fakeRunner stands in for a real Runner in
// internal/task's own tests.
type fakeTasks struct {
	byUID map[uint64]*task.Task
}

func (f *fakeTasks) GetTask(uid uint64) (*task.Task, error) {
	t, ok := f.byUID[uid]
	if !ok {
		return nil, errkind.New(errkind.NotFound, "task_not_found", "task not found", nil)
	}
	return t, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *fakeTasks) {
	t.Helper()
	dir := t.TempDir()
	contentStore, err := content.New(filepath.Join(dir, "content"))
	require.NoError(t, err)
	tasks := &fakeTasks{byUID: make(map[uint64]*task.Task)}
	p := New(contentStore, tasks, filepath.Join(dir, "indexes"), 8, 0)
	return p, tasks
}

func noStop() bool                  { return false }
func noProgress(task.BatchProgress) {}

func createIndex(t *testing.T, p *Pipeline, tasks *fakeTasks, uid string) {
	t.Helper()
	tk := &task.Task{UID: nextUID(tasks), Kind: task.KindIndexCreation, IndexUID: uid}
	tasks.byUID[tk.UID] = tk
	_, err := p.Run(&task.Batch{TaskUIDs: []uint64{tk.UID}}, noStop, noProgress)
	require.NoError(t, err)
}

func nextUID(tasks *fakeTasks) uint64 {
	return uint64(len(tasks.byUID)) + 1
}

func importDocuments(t *testing.T, p *Pipeline, tasks *fakeTasks, uid string, method task.ImportMethod, body string) *task.Task {
	t.Helper()
	name, err := p.content.Create(strings.NewReader(body))
	require.NoError(t, err)
	tk := &task.Task{UID: nextUID(tasks), Kind: task.KindDocumentImport, ImportMethod: method, IndexUID: uid, ContentFile: name}
	tasks.byUID[tk.UID] = tk
	return tk
}

func TestRunIndexCreation_RegistersIndex(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	_, ok := p.indexes["books"]
	assert.True(t, ok)
}

func TestDocumentImport_NewDocumentsAreSearchableByWordPosting(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	tk := importDocuments(t, p, tasks, "books", task.ImportUpdate, `[{"id":"1","title":"the great gatsby"}]`)
	errs, err := p.Run(&task.Batch{TaskUIDs: []uint64{tk.UID}}, noStop, noProgress)
	require.NoError(t, err)
	assert.Empty(t, errs)

	idx := p.indexes["books"]
	bm, err := idx.Store.GetBitmap(kv.TableWordPostings, kv.WordKey("gatsby"))
	require.NoError(t, err)
	require.NotNil(t, bm)
	assert.True(t, bm.Contains(1))
}

func TestDocumentImport_ReplaceRetractsOldPostingsBeforeReindexing(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	tk1 := importDocuments(t, p, tasks, "books", task.ImportUpdate, `[{"id":"1","title":"alpha"}]`)
	_, err := p.Run(&task.Batch{TaskUIDs: []uint64{tk1.UID}}, noStop, noProgress)
	require.NoError(t, err)

	tk2 := importDocuments(t, p, tasks, "books", task.ImportReplace, `[{"id":"1","title":"beta"}]`)
	_, err = p.Run(&task.Batch{TaskUIDs: []uint64{tk2.UID}}, noStop, noProgress)
	require.NoError(t, err)

	idx := p.indexes["books"]
	oldBM, err := idx.Store.GetBitmap(kv.TableWordPostings, kv.WordKey("alpha"))
	require.NoError(t, err)
	assert.Nil(t, oldBM)

	newBM, err := idx.Store.GetBitmap(kv.TableWordPostings, kv.WordKey("beta"))
	require.NoError(t, err)
	require.NotNil(t, newBM)
	assert.True(t, newBM.Contains(1))
}

func TestDocumentImport_UpdateLeavesOtherFieldsUntouched(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	tk1 := importDocuments(t, p, tasks, "books", task.ImportUpdate, `[{"id":"1","title":"alpha","author":"jane"}]`)
	_, err := p.Run(&task.Batch{TaskUIDs: []uint64{tk1.UID}}, noStop, noProgress)
	require.NoError(t, err)

	tk2 := importDocuments(t, p, tasks, "books", task.ImportUpdate, `[{"id":"1","title":"alpha"}]`)
	_, err = p.Run(&task.Batch{TaskUIDs: []uint64{tk2.UID}}, noStop, noProgress)
	require.NoError(t, err)

	idx := p.indexes["books"]
	bm, err := idx.Store.GetBitmap(kv.TableWordPostings, kv.WordKey("jane"))
	require.NoError(t, err)
	require.NotNil(t, bm)
	assert.True(t, bm.Contains(1))
}

func TestDocumentImport_PartialFailureReportedPerTaskNotAsBatchError(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	good := importDocuments(t, p, tasks, "books", task.ImportUpdate, `[{"id":"1","title":"alpha"}]`)
	bad := &task.Task{UID: nextUID(tasks), Kind: task.KindDocumentImport, IndexUID: "missing-index", ContentFile: "nope"}
	tasks.byUID[bad.UID] = bad

	errs, err := p.Run(&task.Batch{TaskUIDs: []uint64{good.UID, bad.UID}}, noStop, noProgress)
	require.NoError(t, err)
	assert.Nil(t, errs[good.UID])
	require.NotNil(t, errs[bad.UID])
	assert.Equal(t, string(errkind.NotFound), errs[bad.UID].Kind)
}

func TestDocumentDeletion_RemovesDocumentAndItsPostings(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	tk1 := importDocuments(t, p, tasks, "books", task.ImportUpdate, `[{"id":"1","title":"alpha"}]`)
	_, err := p.Run(&task.Batch{TaskUIDs: []uint64{tk1.UID}}, noStop, noProgress)
	require.NoError(t, err)

	del := &task.Task{
		UID:      nextUID(tasks),
		Kind:     task.KindDocumentDeletion,
		IndexUID: "books",
		Details:  map[string]any{"target_external_ids": []string{"1"}},
	}
	tasks.byUID[del.UID] = del
	_, err = p.Run(&task.Batch{TaskUIDs: []uint64{del.UID}}, noStop, noProgress)
	require.NoError(t, err)

	idx := p.indexes["books"]
	bm, err := idx.Store.GetBitmap(kv.TableWordPostings, kv.WordKey("alpha"))
	require.NoError(t, err)
	assert.Nil(t, bm)

	_, err = idx.Docs.ExternalID(1)
	assert.Error(t, err)
}

func TestSettingsUpdate_SearchableAttributeChangeRebuildsPostings(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	tk1 := importDocuments(t, p, tasks, "books", task.ImportUpdate, `[{"id":"1","title":"alpha","author":"jane"}]`)
	_, err := p.Run(&task.Batch{TaskUIDs: []uint64{tk1.UID}}, noStop, noProgress)
	require.NoError(t, err)

	settingsTask := &task.Task{
		UID:      nextUID(tasks),
		Kind:     task.KindSettingsUpdate,
		IndexUID: "books",
		Details:  map[string]any{"searchable_attributes": []string{"title"}},
	}
	tasks.byUID[settingsTask.UID] = settingsTask
	_, err = p.Run(&task.Batch{TaskUIDs: []uint64{settingsTask.UID}}, noStop, noProgress)
	require.NoError(t, err)

	idx := p.indexes["books"]
	titleHit, err := idx.Store.GetBitmap(kv.TableWordPostings, kv.WordKey("alpha"))
	require.NoError(t, err)
	require.NotNil(t, titleHit)

	authorHit, err := idx.Store.GetBitmap(kv.TableWordPostings, kv.WordKey("jane"))
	require.NoError(t, err)
	assert.Nil(t, authorHit, "author field excluded from searchable attributes should no longer contribute postings")
}

func TestRunIndexDeletion_ClosesStoreAndForgetsIndex(t *testing.T) {
	p, tasks := newTestPipeline(t)
	createIndex(t, p, tasks, "books")

	del := &task.Task{UID: nextUID(tasks), Kind: task.KindIndexDeletion, IndexUID: "books"}
	tasks.byUID[del.UID] = del
	_, err := p.Run(&task.Batch{TaskUIDs: []uint64{del.UID}}, noStop, noProgress)
	require.NoError(t, err)

	_, ok := p.indexes["books"]
	assert.False(t, ok)
}
