package config

import (
	"fmt"
	"time"
)

// RetrievalConfig tunes the relevance-ranking engine. The four weights are
// normalized at load time, so only their ratios matter.
type RetrievalConfig struct {
	// PhraseWeight scores exact-phrase containment of the whole query.
	PhraseWeight float64 `yaml:"phrase_weight"`

	// OverlapWeight scores the term-overlap ratio between query and chunk.
	OverlapWeight float64 `yaml:"overlap_weight"`

	// IDFWeight scores matched terms by corpus rarity.
	IDFWeight float64 `yaml:"idf_weight"`

	// RecencyWeight is the small bonus for a document's latest version.
	RecencyWeight float64 `yaml:"recency_weight"`

	// MinScore is the relevance threshold; chunks below it are dropped and
	// an all-below-threshold query returns an empty result, not an error.
	MinScore float64 `yaml:"min_score"`

	// MaxResults caps the ranked list when the caller passes no limit.
	MaxResults int `yaml:"max_results"`

	// QueryTimeout is the slow-query budget. A query that exceeds it
	// degrades to "no results" instead of blocking the turn.
	QueryTimeout Duration `yaml:"query_timeout"`

	// CacheSize and CacheTTL bound the per-query result cache.
	CacheSize int      `yaml:"cache_size"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// DefaultRetrievalConfig returns production ranking defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		PhraseWeight:  0.35,
		OverlapWeight: 0.35,
		IDFWeight:     0.20,
		RecencyWeight: 0.10,
		MinScore:      0.10,
		MaxResults:    5,
		QueryTimeout:  Duration(2 * time.Second),
		CacheSize:     256,
		CacheTTL:      Duration(5 * time.Minute),
	}
}

// Validate checks the section.
func (c RetrievalConfig) Validate() error {
	for name, w := range map[string]float64{
		"phrase_weight":  c.PhraseWeight,
		"overlap_weight": c.OverlapWeight,
		"idf_weight":     c.IDFWeight,
		"recency_weight": c.RecencyWeight,
	} {
		if w < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.PhraseWeight+c.OverlapWeight+c.IDFWeight+c.RecencyWeight == 0 {
		return fmt.Errorf("at least one ranking weight must be positive")
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("min_score must be in [0, 1]")
	}
	if c.MaxResults <= 0 {
		return fmt.Errorf("max_results must be positive")
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("query_timeout must be positive")
	}
	return nil
}
