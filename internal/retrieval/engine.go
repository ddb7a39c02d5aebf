// Package retrieval implements deterministic relevance ranking over
// pre-chunked knowledge documents. The engine scores chunks with a weighted
// keyword model (exact phrase, term overlap, IDF, version recency) and is
// intentionally free of randomness: identical inputs always produce identical
// ranked output.
package retrieval

import (
	"context"
	"runtime"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"fixwise/internal/config"
	"fixwise/internal/logging"
	"fixwise/internal/types"
)

// =============================================================================
// ENGINE - Ranked search over an in-memory corpus snapshot
// =============================================================================

// CorpusLoader supplies the document/chunk corpus, typically the SQLite store.
// Ingestion and query are non-overlapping paths: the engine works on an
// immutable snapshot and is refreshed explicitly via Reload.
type CorpusLoader interface {
	LoadCorpus(ctx context.Context) ([]types.KnowledgeDocument, []types.Chunk, error)
}

// Result is one ranked hit. Score is a float in [0, 1].
type Result struct {
	Document types.KnowledgeDocument
	Chunk    types.Chunk
	Excerpt  string
	Score    float64
}

// Engine ranks chunks against free-text queries. Searches never mutate the
// snapshot, so concurrent Search calls need no locking beyond the snapshot
// pointer itself.
type Engine struct {
	cfg   config.RetrievalConfig
	cache *resultCache

	snapshot atomicSnapshot
}

// NewEngine creates an engine with an empty corpus. Call Reload before
// searching, or every query will come back empty.
func NewEngine(cfg config.RetrievalConfig) *Engine {
	return &Engine{
		cfg:   cfg,
		cache: newResultCache(cfg.CacheSize, cfg.CacheTTL.Std()),
	}
}

// Reload replaces the corpus snapshot and drops the query cache.
func (e *Engine) Reload(ctx context.Context, loader CorpusLoader) error {
	docs, chunks, err := loader.LoadCorpus(ctx)
	if err != nil {
		return err
	}

	snap := buildSnapshot(docs, chunks)
	e.snapshot.store(snap)
	e.cache.Clear()

	logging.Get(logging.CategoryRetrieval).Infow("corpus reloaded",
		"documents", len(docs), "chunks", len(chunks))
	return nil
}

// CorpusSize reports documents and chunks in the current snapshot.
func (e *Engine) CorpusSize() (docs, chunks int) {
	snap := e.snapshot.load()
	if snap == nil {
		return 0, 0
	}
	return len(snap.docs), len(snap.chunks)
}

// Search returns the ranked chunks for query, best first, capped at limit
// (limit <= 0 uses the configured default). An empty slice with a nil error
// means nothing cleared the relevance threshold; callers treat that as
// "ask a clarifying question or escalate", never as a failure. A query that
// blows the slow-query budget also degrades to empty results.
func (e *Engine) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	timer := logging.StartTimer(logging.CategoryRetrieval, "search")
	defer timer.Stop()

	if limit <= 0 {
		limit = e.cfg.MaxResults
	}

	snap := e.snapshot.load()
	if snap == nil || len(snap.chunks) == 0 {
		return nil, nil
	}

	q := parseQuery(query)
	if len(q.terms) == 0 {
		return nil, nil
	}

	if hits, ok := e.cache.Get(query); ok {
		return clampResults(hits, limit), nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout.Std())
	defer cancel()

	scored, err := e.scoreAll(ctx, snap, q)
	if err != nil {
		// Budget exceeded: degrade to no results rather than stall the turn.
		logging.Get(logging.CategoryRetrieval).Warnw("search degraded",
			"query_terms", len(q.terms), "err", err)
		return nil, nil
	}

	sortResults(scored)
	e.cache.Set(query, scored)
	return clampResults(scored, limit), nil
}

// scoreAll scores every chunk in parallel shards and keeps those above the
// threshold. The shard split is by index, so the merged set is independent of
// scheduling; ordering is imposed afterwards by sortResults.
func (e *Engine) scoreAll(ctx context.Context, snap *corpusSnapshot, q parsedQuery) ([]Result, error) {
	workers := runtime.GOMAXPROCS(0)
	if workers > len(snap.chunks) {
		workers = len(snap.chunks)
	}

	shards := make([][]Result, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			var out []Result
			for i := w; i < len(snap.chunks); i += workers {
				if i%64 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}
				ch := snap.chunks[i]
				score := e.scoreChunk(snap, q, ch)
				if score < e.cfg.MinScore {
					continue
				}
				doc := snap.docs[ch.chunk.DocumentID]
				out = append(out, Result{
					Document: doc.doc,
					Chunk:    ch.chunk,
					Excerpt:  excerpt(ch.chunk.Content, q.terms),
					Score:    score,
				})
			}
			shards[w] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Result
	for _, shard := range shards {
		all = append(all, shard...)
	}
	return all, nil
}

// scoreChunk computes the weighted relevance of one chunk in [0, 1].
func (e *Engine) scoreChunk(snap *corpusSnapshot, q parsedQuery, ch indexedChunk) float64 {
	matched := 0
	var idfSum float64
	for _, term := range q.terms {
		if _, ok := ch.terms[term]; !ok {
			continue
		}
		matched++
		idfSum += snap.idf(term)
	}
	if matched == 0 {
		return 0
	}

	overlap := float64(matched) / float64(len(q.terms))

	var phrase float64
	if len(q.phrase) > 0 && containsPhrase(ch.tokens, q.phrase) {
		phrase = 1
	}

	idf := idfSum / float64(matched)

	var recency float64
	doc := snap.docs[ch.chunk.DocumentID]
	if doc.latestVersion {
		recency = 1
	}

	total := e.cfg.PhraseWeight + e.cfg.OverlapWeight + e.cfg.IDFWeight + e.cfg.RecencyWeight
	score := (e.cfg.PhraseWeight*phrase +
		e.cfg.OverlapWeight*overlap +
		e.cfg.IDFWeight*idf +
		e.cfg.RecencyWeight*recency) / total
	return score
}

// sortResults orders hits best-first with a fully deterministic tie chain:
// score, then document type priority, then chunk ordinal (step 1 beats
// step 9 when both match equally), then document and chunk ids.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		ap, bp := a.Document.Type.TypePriority(), b.Document.Type.TypePriority()
		if ap != bp {
			return ap > bp
		}
		if a.Chunk.Ordinal != b.Chunk.Ordinal {
			return a.Chunk.Ordinal < b.Chunk.Ordinal
		}
		if a.Document.ID != b.Document.ID {
			return a.Document.ID < b.Document.ID
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

func clampResults(results []Result, limit int) []Result {
	if len(results) <= limit {
		out := make([]Result, len(results))
		copy(out, results)
		return out
	}
	out := make([]Result, limit)
	copy(out, results[:limit])
	return out
}

// =============================================================================
// SNAPSHOT POINTER
// =============================================================================

// atomicSnapshot swaps the corpus wholesale so Search never sees a half-built
// index during Reload.
type atomicSnapshot struct {
	v atomic.Pointer[corpusSnapshot]
}

func (a *atomicSnapshot) store(s *corpusSnapshot) { a.v.Store(s) }
func (a *atomicSnapshot) load() *corpusSnapshot   { return a.v.Load() }
