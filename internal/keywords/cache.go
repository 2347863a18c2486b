package keywords

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// Extractor memoizes Extract. Merge grouping tokenizes the same summaries
// once per pair, so the cache turns that into one pass per summary.
type Extractor struct {
	cache *ristretto.Cache
}

// NewExtractor returns an Extractor holding up to maxTokens cached
// tokens. A non-positive maxTokens disables caching.
func NewExtractor(maxTokens int64) (*Extractor, error) {
	if maxTokens <= 0 {
		return &Extractor{}, nil
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxTokens * 10,
		MaxCost:     maxTokens,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("keyword cache: %w", err)
	}
	return &Extractor{cache: c}, nil
}

// Extract returns the keywords of text, served from cache when possible.
// The returned slice must not be modified.
func (x *Extractor) Extract(text string) []string {
	if x == nil || x.cache == nil {
		return Extract(text)
	}
	if v, ok := x.cache.Get(text); ok {
		return v.([]string)
	}
	toks := Extract(text)
	x.cache.Set(text, toks, int64(len(toks)+1))
	return toks
}

// Close releases the cache goroutines.
func (x *Extractor) Close() {
	if x != nil && x.cache != nil {
		x.cache.Close()
	}
}
