package domain

import (
	"regexp"
	"sort"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters (spaces, tabs, newlines).
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Separators of the scope serialization "k1a,k1b;k2a,k2b" and of a combination "a&b".
const (
	KeywordSeparator      = ","
	KeywordGroupSeparator = ";"
	CombinationSeparator  = "&"
)

// separatorReplacer blanks separators that would corrupt a serialization if kept inside a keyword.
var separatorReplacer = strings.NewReplacer(
	KeywordSeparator, " ",
	KeywordGroupSeparator, " ",
	CombinationSeparator, " ",
)

// NormalizeKeyword normalizes a keyword string by:
// - Converting to lowercase
// - Trimming leading/trailing whitespace
// - Collapsing multiple whitespace characters into a single space
func NormalizeKeyword(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeKeywords normalizes each keyword, drops empties and duplicates,
// and returns the result sorted for canonical comparison.
func NormalizeKeywords(kws []string) []string {
	seen := make(map[string]struct{}, len(kws))
	out := make([]string, 0, len(kws))
	for _, kw := range kws {
		kw = NormalizeKeyword(kw)
		kw = separatorReplacer.Replace(kw)
		kw = strings.TrimSpace(whitespaceRegex.ReplaceAllString(kw, " "))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

// SplitKeywordList splits a comma-joined keyword list and normalizes it.
func SplitKeywordList(s string) []string {
	return NormalizeKeywords(strings.Split(s, KeywordSeparator))
}

// JoinKeywordList joins keywords with the list separator.
func JoinKeywordList(kws []string) string {
	return strings.Join(kws, KeywordSeparator)
}
