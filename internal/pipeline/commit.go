package pipeline

import (
	"io"

	"go.etcd.io/bbolt"

	"github.com/aman-cerp/scribe/internal/docstore"
	"github.com/aman-cerp/scribe/internal/errkind"
	"github.com/aman-cerp/scribe/internal/fstset"
	"github.com/aman-cerp/scribe/internal/kv"
)

// runDocumentImportTask implements §4.2.1 end to end for one
// DocumentImport task: parse the content file, resolve/assign internal
// docids, extract postings, and commit everything inside one write
// transaction.
func (p *Pipeline) runDocumentImportTask(idx *Index, contentFile string, replace bool, mustStop func() bool) error {
	f, err := p.content.Open(contentFile)
	if err != nil {
		return err
	}
	raw, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		return errkind.New(errkind.Transient, "content_read_failed", "failed to read content file", err)
	}

	docs, err := parseDocuments(raw)
	if err != nil {
		return err
	}

	acc := newDeltas()

	return idx.Store.Update(func(tx *bbolt.Tx) error {
		for _, doc := range docs {
			if mustStop() {
				return nil
			}

			external, err := primaryKeyValue(doc, idx.Settings.PrimaryKey)
			if err != nil {
				return err
			}
			if len(external) > 0 && external[0] == 0x00 {
				return errkind.New(errkind.UserInput, "invalid_document_id", "document id may not begin with byte 0x00", nil)
			}

			docID, created, err := docstore.LookupOrAssignInternalID(tx, external, func() (uint64, error) {
				return idx.allocDocID(tx)
			})
			if err != nil {
				return err
			}

			if !created {
				if !replace {
					if v := tx.Bucket(kv.TableDocuments).Get(kv.EncodeUint64(docID)); v != nil {
						var old docstore.Document
						if err := docstore.DecodeDocument(v, &old); err != nil {
							return err
						}
						for k, val := range old {
							if _, ok := doc[k]; !ok {
								doc[k] = val
							}
						}
					}
				}
				if err := retractDocument(tx, idx, docID); err != nil {
					return err
				}
			}

			if err := docstore.PutDocument(tx, docID, docstore.Document(doc)); err != nil {
				return err
			}
			if err := idx.extractDocument(tx, acc, docID, doc); err != nil {
				return err
			}
		}

		if mustStop() {
			return nil
		}
		if err := commitDeltas(tx, idx, acc); err != nil {
			return err
		}
		return idx.refreshWordsFST(tx)
	})
}

// runDocumentDeletionTask removes the documents named by externalIDs
// (a task's "target_external_ids" detail) from idx, retracting every
// posting they contributed (§4.2.3).
func (p *Pipeline) runDocumentDeletionTask(idx *Index, externalIDs []string, mustStop func() bool) error {
	return idx.Store.Update(func(tx *bbolt.Tx) error {
		for _, external := range externalIDs {
			if mustStop() {
				return nil
			}

			docID, _, err := docstore.LookupOrAssignInternalID(tx, external, func() (uint64, error) {
				return 0, errkind.New(errkind.NotFound, "document_not_found", "document not found for deletion", nil)
			})
			if err != nil {
				continue
			}
			if err := retractDocument(tx, idx, docID); err != nil {
				return err
			}
			if err := docstore.DeleteDocument(tx, docID); err != nil {
				return err
			}
			if err := docstore.RemoveExternalID(tx, external, docID); err != nil {
				return err
			}
			idx.Vectors.Remove("default", docID)
		}
		return idx.refreshWordsFST(tx)
	})
}

// retractDocument re-extracts doc's current postings and applies them
// as del-only deltas, the "replace" half of an update (§4.2.1's "del
// bitmaps populated and add empty" deletion pipeline, reused here for
// the retract-before-reindex step of a replace import).
func retractDocument(tx *bbolt.Tx, idx *Index, docID uint64) error {
	v := tx.Bucket(kv.TableDocuments).Get(kv.EncodeUint64(docID))
	if v == nil {
		return nil
	}
	var doc docstore.Document
	if err := docstore.DecodeDocument(v, &doc); err != nil {
		return err
	}

	acc := newDeltas()
	if err := idx.extractDocument(tx, acc, docID, doc); err != nil {
		return err
	}
	return applyDeltasAsRetraction(tx, idx, acc, docID)
}

// applyDeltasAsRetraction moves every additive delta entry into its del
// side before committing, the mechanical inverse of a normal commit.
func applyDeltasAsRetraction(tx *bbolt.Tx, idx *Index, acc *deltas, docID uint64) error {
	retracted := newDeltas()
	for k := range acc.word {
		mapDel(retracted.word, k, docID)
	}
	for k := range acc.wordPrefix {
		mapDel(retracted.wordPrefix, k, docID)
	}
	for k := range acc.wordField {
		mapDel(retracted.wordField, k, docID)
	}
	for k := range acc.wordPosition {
		mapDel(retracted.wordPosition, k, docID)
	}
	for k := range acc.wordPair {
		mapDel(retracted.wordPair, k, docID)
	}
	for k := range acc.fieldCount {
		mapDel(retracted.fieldCount, k, docID)
	}
	for fieldID, byField := range acc.facetByField {
		out := make(map[string]*delta, len(byField))
		for k := range byField {
			mapDel(out, k, docID)
		}
		retracted.facetByField[fieldID] = out
	}
	return commitDeltas(tx, idx, retracted)
}

// commitDeltas applies every accumulated delta to its table (§4.2.1
// step 6): new = (old ∖ del) ∪ add, deleting keys whose result is
// empty. Facet deltas additionally trigger facet-tree rebalancing.
func commitDeltas(tx *bbolt.Tx, idx *Index, acc *deltas) error {
	tables := []struct {
		table kv.Table
		m     map[string]*delta
	}{
		{kv.TableWordPostings, acc.word},
		{kv.TableWordPrefixPostings, acc.wordPrefix},
		{kv.TableWordFieldPostings, acc.wordField},
		{kv.TableWordPositionPostings, acc.wordPosition},
		{kv.TableWordPairProximity, acc.wordPair},
		{kv.TableFieldWordCount, acc.fieldCount},
	}

	for _, e := range tables {
		for key, d := range e.m {
			if err := kv.ApplyDelta(tx, e.table, []byte(key), kv.Delta{Del: d.del, Add: d.add}); err != nil {
				return err
			}
		}
	}

	for fieldID, byField := range acc.facetByField {
		tree := idx.facetTree(fieldID)
		for value, d := range byField {
			if err := tree.ApplyDelta(tx, []byte(value), d.del, d.add); err != nil {
				return err
			}
		}
	}

	return nil
}

// buildWordsFST rebuilds the words FST from the current word posting
// table's key set, restoring the §3.5 invariant that the words FST
// equals the set of keys in the word posting. It is rebuilt in full
// rather than incrementally, since vellum FSTs are immutable once
// built. Its caller, Index.refreshWordsFST, runs after every document
// import, document deletion and settings update.
func buildWordsFST(tx *bbolt.Tx) (*fstset.Set, error) {
	var words []string
	c := tx.Bucket(kv.TableWordPostings).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		words = append(words, string(k))
	}
	return fstset.Build(words)
}
