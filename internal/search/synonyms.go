package search

import "strings"

// builtinSynonyms is a small, generic document-search synonym table,
// grounded on the teacher's CodeSynonyms map (search/synonyms.go) but
// trimmed from code-identifier vocabulary (func/method/class) to
// general document vocabulary, since this spec's documents are not
// assumed to be source code. Callers needing a domain-specific table
// (a code index, a product catalog) can extend this at index-settings
// level in a future iteration; none is wired today.
var builtinSynonyms = map[string][]string{
	"doc":    {"document"},
	"docs":   {"documents", "document"},
	"config": {"configuration", "settings"},
	"dir":    {"directory", "folder"},
	"img":    {"image", "picture"},
	"info":   {"information"},
	"desc":   {"description"},
	"qty":    {"quantity"},
	"id":     {"identifier"},
	"auth":   {"authentication", "authorization"},
}

// lookupSynonyms returns term's configured synonyms, case-insensitively.
func lookupSynonyms(term string) []string {
	return builtinSynonyms[strings.ToLower(term)]
}
