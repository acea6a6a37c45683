// Package kv wraps go.etcd.io/bbolt as the single memory-mapped
// transactional key-value store backing a search index (C3): one bolt
// bucket per reserved table, fixed big-endian key codecs, and roaring
// bitmap posting values.
package kv

// Table names a reserved bolt bucket. Table is its own type rather than
// a plain []byte so a caller can't accidentally open an ad-hoc bucket
// outside the set this package manages.
type Table []byte

// Reserved tables, per the documents/postings/facet layout of §3.5.
var (
	TableDocuments   Table = []byte("documents")
	TableExternalIDs Table = []byte("external_ids")
	TableFieldsMap   Table = []byte("fields_map")

	TableWordPostings            Table = []byte("word_postings")
	TableWordPrefixPostings      Table = []byte("word_prefix_postings")
	TableWordFieldPostings       Table = []byte("word_field_postings")
	TableWordPositionPostings    Table = []byte("word_position_postings")
	TableWordPairProximity       Table = []byte("word_pair_proximity")
	TableWordPairProximityPrefix Table = []byte("word_pair_proximity_prefix")
	TableFieldWordCount          Table = []byte("field_word_count")

	TableFacetLevel Table = []byte("facet_level")

	TableWordsFST      Table = []byte("words_fst")
	TableExactWordsFST Table = []byte("exact_words_fst")
	TableStopWordsFST  Table = []byte("stop_words_fst")
	TableDictionaryFST Table = []byte("dictionary_fst")

	TableVectors Table = []byte("vectors")

	// Queue secondary indexes (§3.4), bitmap-valued, shared by internal/task.
	TableTaskByStatus   Table = []byte("task_by_status")
	TableTaskByKind     Table = []byte("task_by_kind")
	TableTaskByIndexUID Table = []byte("task_by_index_uid")
	TableTaskByTime     Table = []byte("task_by_time")

	TableBatchByStatus   Table = []byte("batch_by_status")
	TableBatchByIndexUID Table = []byte("batch_by_index_uid")
)

// AllTables enumerates every reserved table so Store.Open can create
// every bucket up front, the way a schema migration would.
func AllTables() []Table {
	return []Table{
		TableDocuments, TableExternalIDs, TableFieldsMap,
		TableWordPostings, TableWordPrefixPostings, TableWordFieldPostings,
		TableWordPositionPostings, TableWordPairProximity, TableWordPairProximityPrefix,
		TableFieldWordCount,
		TableFacetLevel,
		TableWordsFST, TableExactWordsFST, TableStopWordsFST, TableDictionaryFST,
		TableVectors,
		TableTaskByStatus, TableTaskByKind, TableTaskByIndexUID, TableTaskByTime,
		TableBatchByStatus, TableBatchByIndexUID,
	}
}
