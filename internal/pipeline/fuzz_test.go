package pipeline

import (
	"testing"
	"unicode/utf8"
)

// FuzzTokenize checks the token and biterm invariants on arbitrary publication text.
func FuzzTokenize(f *testing.F) {
	for _, s := range []string{
		"",
		"Neural networks for health diagnosis",
		"the and of 2019 42 ab",
		"<script>alert('xss')</script>",
		"query\x00with\x00nulls",
		"Sch\u00f6dinger's cat \U0001F4A9 \u200B \uFEFF",
		"deep-learning/computer_vision: 3D CNNs (2020)",
	} {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, text string) {
		tokens := Tokenize(text)
		for _, tok := range tokens {
			if utf8.RuneCountInString(tok) < minTermLength {
				t.Fatalf("token %q is shorter than %d runes", tok, minTermLength)
			}
			if _, stop := stopWords[tok]; stop {
				t.Fatalf("stop word %q kept", tok)
			}
			if isNumeric(tok) {
				t.Fatalf("numeric token %q kept", tok)
			}
		}

		biterms := Biterms(tokens)
		if len(biterms) > maxTermsPerPublication*(maxTermsPerPublication-1)/2 {
			t.Fatalf("got %d biterms", len(biterms))
		}
		for _, b := range biterms {
			if b.A >= b.B {
				t.Fatalf("biterm %v is not ordered", b)
			}
		}
	})
}
