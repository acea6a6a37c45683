// Package tokenize implements the indexing pipeline's tokenization
// phase (§4.2.1 step 3): apply the index's tokenizer (stop-words only;
// custom dictionaries and allowed-separator lists are not applied) and
// emit a stream of
// (field, position, word) tuples, capped at a per-field position
// budget.
package tokenize

import (
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
)

// Word is one emitted (field, position, word) tuple.
type Word struct {
	Field    string
	Position int
	Term     string
}

// Tokenizer wraps a bleve unicode tokenizer + lowercase filter chain
// (the teacher's TokenizeCode is camelCase/snake_case aware for source
// code identifiers; this domain indexes arbitrary document text, so the
// chain is built from bleve's general-purpose unicode segmentation
// instead, reusing the teacher's overall tokenizer-wrapper shape).
type Tokenizer struct {
	tokenizer               analysis.Tokenizer
	lowercase               analysis.TokenFilter
	stopWords               map[string]struct{}
	maxPositionPerAttribute int
}

// New builds a Tokenizer with the given stop-word set and per-field
// position budget (MAX_POSITION_PER_ATTRIBUTE of §4.2.1).
func New(stopWords []string, maxPositionPerAttribute int) *Tokenizer {
	if maxPositionPerAttribute <= 0 {
		maxPositionPerAttribute = 1000
	}
	return &Tokenizer{
		tokenizer:               unicode.NewUnicodeTokenizer(),
		lowercase:               lowercase.NewLowerCaseFilter(),
		stopWords:               buildStopWordMap(stopWords),
		maxPositionPerAttribute: maxPositionPerAttribute,
	}
}

func buildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// Tokenize segments text belonging to field into a bounded stream of
// words, filtering stop words and truncating at the position budget.
func (t *Tokenizer) Tokenize(field, text string) []Word {
	stream := t.tokenizer.Tokenize([]byte(text))
	stream = t.lowercase.Filter(stream)

	words := make([]Word, 0, len(stream))
	for _, tok := range stream {
		if tok.Position > t.maxPositionPerAttribute {
			break
		}
		term := string(tok.Term)
		if _, stop := t.stopWords[term]; stop {
			continue
		}
		words = append(words, Word{Field: field, Position: tok.Position, Term: term})
	}
	return words
}

// IsStopWord reports whether term is configured as a stop word.
func (t *Tokenizer) IsStopWord(term string) bool {
	_, ok := t.stopWords[strings.ToLower(term)]
	return ok
}
