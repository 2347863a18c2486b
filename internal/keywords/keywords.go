// Package keywords extracts lexical search keys from free text.
//
// Latin-script text is split into words. CJK text has no word boundaries,
// so short CJK runs are kept whole and longer runs are decomposed into
// overlapping 2-grams and 3-grams.
package keywords

import (
	"strings"
	"unicode"
)

// MaxWholeCJK is the longest CJK run kept as a single token.
const MaxWholeCJK = 4

var stopwords = map[string]bool{
	// English
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true, "if": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "by": true, "for": true,
	"with": true, "about": true, "from": true, "into": true, "over": true, "as": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true, "being": true,
	"am": true, "do": true, "does": true, "did": true, "have": true, "has": true, "had": true,
	"it": true, "its": true, "this": true, "that": true, "these": true, "those": true,
	"i": true, "me": true, "my": true, "we": true, "our": true, "you": true, "your": true,
	"he": true, "she": true, "they": true, "them": true, "their": true, "his": true, "her": true,
	"what": true, "which": true, "who": true, "whom": true, "when": true, "where": true,
	"why": true, "how": true, "not": true, "no": true, "so": true, "than": true, "too": true,
	"very": true, "can": true, "will": true, "just": true, "should": true, "would": true,
	"could": true, "there": true, "here": true, "all": true, "any": true, "some": true,
	"then": true, "also": true, "more": true, "most": true, "such": true, "only": true,
	// Chinese
	"我们": true, "你们": true, "他们": true, "她们": true, "这个": true, "那个": true,
	"这些": true, "那些": true, "什么": true, "怎么": true, "为什么": true, "因为": true,
	"所以": true, "但是": true, "然后": true, "如果": true, "可以": true, "已经": true,
	"还是": true, "就是": true, "没有": true, "一个": true, "一些": true, "这样": true,
	"那样": true, "自己": true, "现在": true, "需要": true, "应该": true, "可能": true,
}

// isStopword reports whether tok is in the bilingual stopword set.
func isStopword(tok string) bool {
	return stopwords[tok]
}

// Extract returns the deduplicated keywords of text in order of first
// appearance.
func Extract(text string) []string {
	var (
		out  []string
		seen = make(map[string]bool)
	)
	add := func(tok string) {
		if len([]rune(tok)) < 2 || isStopword(tok) || seen[tok] {
			return
		}
		seen[tok] = true
		out = append(out, tok)
	}

	for _, run := range splitRuns(normalize(text)) {
		if !run.cjk {
			add(run.text)
			continue
		}
		rs := []rune(run.text)
		if len(rs) <= MaxWholeCJK {
			add(run.text)
			continue
		}
		for i := 0; i+2 <= len(rs); i++ {
			add(string(rs[i : i+2]))
			if i+3 <= len(rs) {
				add(string(rs[i : i+3]))
			}
		}
	}
	return out
}

// normalize lower-cases text and turns punctuation and symbols into spaces.
func normalize(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, text)
}

type run struct {
	text string
	cjk  bool
}

// splitRuns breaks text into maximal runs of CJK or other word characters.
func splitRuns(text string) []run {
	var (
		runs []run
		b    strings.Builder
		cur  bool
	)
	flush := func() {
		if b.Len() > 0 {
			runs = append(runs, run{text: b.String(), cjk: cur})
			b.Reset()
		}
	}
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		c := isCJK(r)
		if b.Len() > 0 && c != cur {
			flush()
		}
		cur = c
		b.WriteRune(r)
	}
	flush()
	return runs
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Overlap returns |a ∩ b| / max(|a|, |b|) over the distinct tokens of a
// and b, or 0 when either is empty.
func Overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inB := make(map[string]bool, len(b))
	common := 0
	for _, t := range b {
		if set[t] && !inB[t] {
			common++
		}
		inB[t] = true
	}
	denom := len(set)
	if len(inB) > denom {
		denom = len(inB)
	}
	return float64(common) / float64(denom)
}
