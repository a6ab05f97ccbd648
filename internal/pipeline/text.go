package pipeline

import (
	"sort"
	"strings"
	"unicode"

	"github.com/helixir/research-trend-service/internal/domain"
)

// minTermLength is the shortest kept token.
const minTermLength = 3

// maxTermsPerPublication bounds the distinct terms paired into biterms per publication.
const maxTermsPerPublication = 40

// stopWords are dropped during tokenisation.
var stopWords = func() map[string]struct{} {
	words := strings.Fields(`
		about above after again against all also among and any are aren because been before
		being below between both but can cannot could did didn does doesn doing don down during
		each either few for from further had has have having her here hers herself him himself
		his how however into its itself just may might more most much must nor not now off once
		only other our ours ourselves out over own same shall she should since some such than
		that the their theirs them themselves then there these they this those through thus too
		under until upon very was wasn were weren what when where whether which while who whom
		whose why will with within without would yet you your yours yourself yourselves
		abstract paper study studies results result method methods approach approaches based
		using used use show shows shown propose proposed present presented new novel
		therefore furthermore moreover respectively via one two three
	`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokenize lowercases text, splits it on anything that is not a letter or digit and
// drops stop words, purely numeric tokens and tokens shorter than three characters.
// Token order follows the text.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < minTermLength {
			continue
		}
		if _, stop := stopWords[f]; stop {
			continue
		}
		if isNumeric(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// topTerms returns the distinct terms of tokens ranked by frequency, then alphabetically,
// capped at maxTermsPerPublication.
func topTerms(tokens []string) []string {
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	terms := make([]string, 0, len(counts))
	for t := range counts {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxTermsPerPublication {
		terms = terms[:maxTermsPerPublication]
	}
	return terms
}

// Biterms returns every unordered pair of distinct terms of tokens, in canonical order.
func Biterms(tokens []string) []domain.Biterm {
	terms := topTerms(tokens)
	sort.Strings(terms)

	out := make([]domain.Biterm, 0, len(terms)*(len(terms)-1)/2)
	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			out = append(out, domain.Biterm{A: terms[i], B: terms[j]})
		}
	}
	return out
}
