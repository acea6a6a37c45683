package search

import (
	"strings"

	"github.com/aman-cerp/scribe/internal/fstset"
)

// MatchingStrategy controls how the Words rule treats a query none of
// whose documents match every term (§4.4.1).
type MatchingStrategy string

const (
	// MatchAll requires every query term to contribute for the best
	// bucket; documents matching fewer terms still rank, just lower.
	MatchAll MatchingStrategy = "all"
	// MatchLast is accepted but ranks exactly like MatchAll: WordsRule
	// does not read the strategy and buckets by matched-position count;
	// terms are not dropped right-to-left.
	MatchLast MatchingStrategy = "last"
)

// VariantKind labels how a query-word variant was derived, used by the
// Typo rule to assign cost and by Explain output.
type VariantKind string

const (
	VariantExact   VariantKind = "exact"
	VariantTypo    VariantKind = "typo"
	VariantPrefix  VariantKind = "prefix"
	VariantSynonym VariantKind = "synonym"
	VariantSplit   VariantKind = "split"
	VariantConcat  VariantKind = "concat"
)

// Variant is one OR-branch of a query word's expansion.
type Variant struct {
	Term     string
	Kind     VariantKind
	TypoCost int
}

// WordGroup is one position in the query: the literal term the user
// typed plus every variant (exact, typo neighbours, prefix
// completions, synonyms) that may satisfy it (§4.4.2's OR-of-variants).
type WordGroup struct {
	Position int
	Original string
	Variants []Variant
}

// Alternative is a split-word or concatenation rewrite of two adjacent
// query positions (e.g. "sun flower" <-> "sunflower"), kept as a
// separate top-level phrasing rather than folded into the per-word
// OR-set, since a literal word-variant DAG node would otherwise need to
// span a variable number of original positions. Alternatives are
// recorded on the QueryTree only: neither the engine nor any ranking
// rule reads them, so they do not change which documents match.
type Alternative struct {
	Positions []int  // original positions this alternative replaces
	Phrase    string // the rewritten phrase
}

// QueryTree is the expanded form of one query string (§4.4.2): a
// sequence of word groups, the Consecutive (adjacent, distance-1)
// pairs phrase quoting requires, and any split/concatenation
// alternative phrasings discovered against the words FST.
type QueryTree struct {
	Words        []WordGroup
	Consecutive  map[int]bool // Words[i] and Words[i+1] were quoted together; no ranking rule reads this, so adjacency is not enforced
	Alternatives []Alternative
	Strategy     MatchingStrategy
}

// BuildQueryTree tokenizes text and expands each word into its variant
// set, grounded on the teacher's expander.go/decomposer.go/synonyms.go
// (generalized here from code-identifier synonyms to a small built-in
// document-search synonym table, see synonyms.go).
func BuildQueryTree(words *fstset.Set, text string, minWordLenOneTypo, minWordLenTwoTypos int, strategy MatchingStrategy) (*QueryTree, error) {
	terms, consecutive := tokenizeQuery(text)
	qt := &QueryTree{Consecutive: consecutive, Strategy: strategy}
	if strategy == "" {
		qt.Strategy = MatchAll
	}

	for i, term := range terms {
		group := WordGroup{Position: i, Original: term, Variants: []Variant{{Term: term, Kind: VariantExact}}}

		maxEdits := 0
		runes := len([]rune(term))
		if runes >= minWordLenTwoTypos && minWordLenTwoTypos > 0 {
			maxEdits = 2
		} else if runes >= minWordLenOneTypo && minWordLenOneTypo > 0 {
			maxEdits = 1
		}

		seen := map[string]bool{term: true}
		if words != nil && maxEdits > 0 {
			neighbors, err := words.EditDistanceIter(term, uint8(maxEdits))
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if seen[n] {
					continue
				}
				seen[n] = true
				group.Variants = append(group.Variants, Variant{Term: n, Kind: VariantTypo, TypoCost: maxEdits})
			}
		}

		if words != nil {
			completions, err := words.PrefixIter(term)
			if err != nil {
				return nil, err
			}
			for _, c := range completions {
				if seen[c] {
					continue
				}
				seen[c] = true
				group.Variants = append(group.Variants, Variant{Term: c, Kind: VariantPrefix})
			}
		}

		for _, syn := range lookupSynonyms(term) {
			if seen[syn] {
				continue
			}
			seen[syn] = true
			group.Variants = append(group.Variants, Variant{Term: syn, Kind: VariantSynonym, TypoCost: SynonymTypoCost})
		}

		qt.Words = append(qt.Words, group)
	}

	if words != nil {
		qt.Alternatives = splitAndConcatAlternatives(terms, words)
	}

	return qt, nil
}

// tokenizeQuery splits text on whitespace, treating a double-quoted
// span as a run of Consecutive-linked positions (§4.4.1's exact
// phrases).
func tokenizeQuery(text string) ([]string, map[int]bool) {
	var terms []string
	consecutive := make(map[int]bool)
	inPhrase := false
	phraseStart := -1

	for _, raw := range strings.Fields(text) {
		word := raw
		startsQuote := strings.HasPrefix(word, `"`)
		endsQuote := strings.HasSuffix(word, `"`) && len(word) > 1
		word = strings.Trim(word, `"`)
		if word == "" {
			continue
		}

		if startsQuote && !inPhrase {
			inPhrase = true
			phraseStart = len(terms)
		}

		terms = append(terms, strings.ToLower(word))

		if inPhrase && len(terms)-1 > phraseStart {
			consecutive[len(terms)-2] = true
		}

		if endsQuote {
			inPhrase = false
			phraseStart = -1
		}
	}
	return terms, consecutive
}

// splitAndConcatAlternatives proposes rewrites for adjacent query
// positions: splitting one term into two words both present in the
// words FST, and concatenating two adjacent terms into one word
// present in the words FST (§4.4.2's split-word/ngram alternatives).
func splitAndConcatAlternatives(terms []string, words *fstset.Set) []Alternative {
	var alts []Alternative

	for i, term := range terms {
		runes := []rune(term)
		for cut := 1; cut < len(runes); cut++ {
			left, right := string(runes[:cut]), string(runes[cut:])
			leftOK, _ := words.Contains(left)
			rightOK, _ := words.Contains(right)
			if leftOK && rightOK {
				alts = append(alts, Alternative{Positions: []int{i}, Phrase: left + " " + right})
			}
		}
	}

	for i := 0; i+1 < len(terms); i++ {
		joined := terms[i] + terms[i+1]
		if ok, _ := words.Contains(joined); ok {
			alts = append(alts, Alternative{Positions: []int{i, i + 1}, Phrase: joined})
		}
	}

	return alts
}
