// Package fstset builds and queries the ordered word sets of §3.5 (the
// words FST, exact-words FST, stop-words FST, and dictionary FST) using
// blevesearch/vellum, the FST library already in the dependency tree
// via the teacher's bleve stack (bleve's zapx segment format builds on
// it internally).
package fstset

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/blevesearch/vellum"
	"github.com/blevesearch/vellum/levenshtein"

	"github.com/aman-cerp/scribe/internal/errkind"
)

// Set is an immutable ordered set of words backed by a built FST,
// supporting byte-range and edit-distance enumeration (§3.5).
type Set struct {
	fst *vellum.FST
}

// Build constructs a Set from words. vellum requires keys inserted in
// sorted order, so words is sorted (and de-duplicated) first; this is
// the full-rebuild path the pipeline runs after every commit that can
// change the word-bearing postings (imports, deletions, settings
// updates).
func Build(words []string) (*Set, error) {
	sorted := append([]string(nil), words...)
	sort.Strings(sorted)

	var buf bytes.Buffer
	builder, err := vellum.New(&buf, nil)
	if err != nil {
		return nil, errkind.New(errkind.Inconsistency, "fst_build_failed", "failed to create fst builder", err)
	}

	var prev string
	first := true
	for i, w := range sorted {
		if !first && w == prev {
			continue
		}
		if err := builder.Insert([]byte(w), uint64(i)); err != nil {
			return nil, errkind.New(errkind.Inconsistency, "fst_build_failed", "failed to insert word", err)
		}
		prev = w
		first = false
	}
	if err := builder.Close(); err != nil {
		return nil, errkind.New(errkind.Inconsistency, "fst_build_failed", "failed to finalize fst", err)
	}

	fst, err := vellum.Load(buf.Bytes())
	if err != nil {
		return nil, errkind.New(errkind.Inconsistency, "fst_build_failed", "failed to load built fst", err)
	}
	return &Set{fst: fst}, nil
}

// Contains reports whether word is a member of the set.
func (s *Set) Contains(word string) (bool, error) {
	ok, _, err := s.fst.Get([]byte(word))
	return ok, err
}

// Len returns the number of words in the set (the underlying FST's
// entry count).
func (s *Set) Len() int {
	return int(s.fst.Len())
}

// PrefixIter enumerates every word with the given byte prefix, used for
// word-prefix posting lookups and prefix-completion query expansion.
func (s *Set) PrefixIter(prefix string) ([]string, error) {
	end := prefixUpperBound(prefix)
	itr, err := s.fst.Iterator([]byte(prefix), end)
	if err == vellum.ErrIteratorDone {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.Inconsistency, "fst_iterate_failed", "failed to start prefix iterator", err)
	}

	var words []string
	for err == nil {
		k, _ := itr.Current()
		words = append(words, string(k))
		err = itr.Next()
	}
	if err != vellum.ErrIteratorDone {
		return nil, errkind.New(errkind.Inconsistency, "fst_iterate_failed", "failed during prefix iteration", err)
	}
	return words, nil
}

// EditDistanceIter enumerates every word within maxEdits Levenshtein
// edits of query, the typo-tolerance word-variant source for the Typo
// ranking rule (§4.4).
func (s *Set) EditDistanceIter(query string, maxEdits uint8) ([]string, error) {
	lev, err := levenshtein.New(query, maxEdits)
	if err != nil {
		return nil, errkind.New(errkind.Inconsistency, "fst_levenshtein_failed", "failed to build levenshtein automaton", err)
	}

	itr, err := s.fst.Search(lev, nil, nil)
	if err == vellum.ErrIteratorDone {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.New(errkind.Inconsistency, "fst_iterate_failed", "failed to start edit-distance search", err)
	}

	var words []string
	for err == nil {
		k, _ := itr.Current()
		words = append(words, string(k))
		err = itr.Next()
	}
	if err != vellum.ErrIteratorDone {
		return nil, errkind.New(errkind.Inconsistency, "fst_iterate_failed", "failed during edit-distance iteration", err)
	}
	return words, nil
}

// prefixUpperBound returns the smallest byte string that is
// lexicographically greater than every string sharing prefix, or nil
// (no upper bound) when prefix is all 0xff bytes.
func prefixUpperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			out := make([]byte, i+1)
			copy(out, b[:i+1])
			out[i]++
			return out
		}
	}
	return nil
}

// ErrEmptySet reports an empty word list. Build does not return it:
// called with no words, Build returns an empty Set.
var ErrEmptySet = fmt.Errorf("fstset: no words to build")
