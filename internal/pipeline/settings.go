package pipeline

import (
	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/docstore"
	"github.com/aman-cerp/scribe/internal/kv"
	"github.com/aman-cerp/scribe/internal/task"
	"github.com/aman-cerp/scribe/internal/tokenize"
)

// SettingsUpdate names the fields a KindSettingsUpdate task carries in
// Details, set by the caller submitting the task.
type SettingsUpdate struct {
	SearchableAttributes *[]string
	FilterableAttributes *[]string
	StopWords            *[]string
	PrimaryKey           *string
}

// runSettingsUpdateTask applies a settings change and queues the
// specific reindex subset §4.2.2 calls for: searchable-attribute or
// stop-word changes rebuild the word-bearing postings from the
// documents table; filterable-attribute changes rebuild the facet
// trees; ranking/typo parameter changes (not modeled as index state
// here) need no reindex.
func (p *Pipeline) runSettingsUpdateTask(t *task.Task) error {
	idx, err := p.index(t.IndexUID)
	if err != nil {
		return err
	}

	update := settingsUpdateFromDetails(t.Details)

	rebuildWords := update.SearchableAttributes != nil || update.StopWords != nil
	rebuildFacets := update.FilterableAttributes != nil

	if update.SearchableAttributes != nil {
		idx.Settings.SearchableAttributes = *update.SearchableAttributes
	}
	if update.FilterableAttributes != nil {
		idx.Settings.FilterableAttributes = *update.FilterableAttributes
	}
	if update.StopWords != nil {
		idx.Settings.StopWords = *update.StopWords
		idx.tokenizer = tokenize.New(idx.Settings.StopWords, idx.Settings.MaxPositionPerAttribute)
	}
	if update.PrimaryKey != nil {
		idx.Settings.PrimaryKey = *update.PrimaryKey
	}

	if !rebuildWords && !rebuildFacets {
		return nil
	}

	return idx.Store.Update(func(tx *bbolt.Tx) error {
		if rebuildWords {
			if err := clearWordBearingPostings(tx); err != nil {
				return err
			}
		}
		if rebuildFacets {
			if err := clearTable(tx, kv.TableFacetLevel); err != nil {
				return err
			}
		}

		acc := newDeltas()
		if err := forEachDocument(tx, func(docID uint64, doc docstore.Document) error {
			return idx.extractDocument(tx, acc, docID, doc)
		}); err != nil {
			return err
		}
		if err := commitDeltas(tx, idx, acc); err != nil {
			return err
		}

		if rebuildWords {
			if err := idx.refreshWordsFST(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

func settingsUpdateFromDetails(details map[string]any) SettingsUpdate {
	var update SettingsUpdate
	if _, present := details["searchable_attributes"]; present {
		v := stringSliceFromAny(details["searchable_attributes"])
		update.SearchableAttributes = &v
	}
	if _, present := details["filterable_attributes"]; present {
		v := stringSliceFromAny(details["filterable_attributes"])
		update.FilterableAttributes = &v
	}
	if _, present := details["stop_words"]; present {
		v := stringSliceFromAny(details["stop_words"])
		update.StopWords = &v
	}
	if v, ok := details["primary_key"].(string); ok {
		update.PrimaryKey = &v
	}
	return update
}

func clearWordBearingPostings(tx *bbolt.Tx) error {
	tables := []kv.Table{
		kv.TableWordPostings, kv.TableWordPrefixPostings, kv.TableWordFieldPostings,
		kv.TableWordPositionPostings, kv.TableWordPairProximity, kv.TableWordPairProximityPrefix,
		kv.TableFieldWordCount,
	}
	for _, table := range tables {
		if err := clearTable(tx, table); err != nil {
			return err
		}
	}
	return nil
}

func clearTable(tx *bbolt.Tx, table kv.Table) error {
	if err := tx.DeleteBucket(table); err != nil && err != bbolt.ErrBucketNotFound {
		return err
	}
	_, err := tx.CreateBucketIfNotExists(table)
	return err
}

func forEachDocument(tx *bbolt.Tx, fn func(docID uint64, doc docstore.Document) error) error {
	c := tx.Bucket(kv.TableDocuments).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var doc docstore.Document
		if err := docstore.DecodeDocument(v, &doc); err != nil {
			return err
		}
		if err := fn(kv.DecodeUint64(k), doc); err != nil {
			return err
		}
	}
	return nil
}
