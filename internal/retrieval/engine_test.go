package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"fixwise/internal/config"
	"fixwise/internal/types"
)

// memLoader is a CorpusLoader over fixture slices.
type memLoader struct {
	docs   []types.KnowledgeDocument
	chunks []types.Chunk
}

func (m *memLoader) LoadCorpus(context.Context) ([]types.KnowledgeDocument, []types.Chunk, error) {
	return m.docs, m.chunks, nil
}

func doc(id, title string, typ types.DocumentType, version int) types.KnowledgeDocument {
	return types.KnowledgeDocument{ID: id, Title: title, Type: typ, Language: "en", Version: version}
}

func chunk(id, docID string, ordinal int, content string) types.Chunk {
	return types.Chunk{ID: id, DocumentID: docID, Ordinal: ordinal, Content: content}
}

func newTestEngine(t *testing.T, loader *memLoader) *Engine {
	t.Helper()
	e := NewEngine(config.DefaultRetrievalConfig())
	require.NoError(t, e.Reload(context.Background(), loader))
	return e
}

func TestSearch_RanksMatchingChunksFirst(t *testing.T) {
	loader := &memLoader{
		docs: []types.KnowledgeDocument{
			doc("d1", "Pump guide", types.DocTroubleshootingGuide, 1),
		},
		chunks: []types.Chunk{
			chunk("c1", "d1", 0, "Step 1: check power supply to the pump"),
			chunk("c2", "d1", 1, "Unrelated note about warehouse shelving"),
		},
	}
	e := newTestEngine(t, loader)

	results, err := e.Search(context.Background(), "pump won't start", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].Chunk.ID)
	assert.Greater(t, results[0].Score, 0.0)
	assert.LessOrEqual(t, results[0].Score, 1.0)
	assert.Contains(t, results[0].Excerpt, "check power")
}

func TestSearch_EarlierStepWinsEqualMatch(t *testing.T) {
	loader := &memLoader{
		docs: []types.KnowledgeDocument{
			doc("d1", "Pump guide", types.DocTroubleshootingGuide, 1),
		},
		chunks: []types.Chunk{
			chunk("c2", "d1", 1, "Step 2: check the pump fuse"),
			chunk("c1", "d1", 0, "Step 1: check the pump power"),
		},
	}
	e := newTestEngine(t, loader)

	results, err := e.Search(context.Background(), "pump check", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].Chunk.ID, "step 1 outranks step 9 on equal relevance")
	assert.Equal(t, "c2", results[1].Chunk.ID)
	assert.Equal(t, results[0].Score, results[1].Score)
}

func TestSearch_DocumentTypeBreaksTies(t *testing.T) {
	loader := &memLoader{
		docs: []types.KnowledgeDocument{
			doc("d-faq", "FAQ", types.DocFAQ, 1),
			doc("d-guide", "Guide", types.DocTroubleshootingGuide, 1),
		},
		chunks: []types.Chunk{
			chunk("c-faq", "d-faq", 0, "Reset the fuse panel"),
			chunk("c-guide", "d-guide", 0, "Reset the fuse panel"),
		},
	}
	e := newTestEngine(t, loader)

	results, err := e.Search(context.Background(), "reset fuse panel", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "d-guide", results[0].Document.ID)
}

func TestSearch_LatestVersionGetsRecencyBonus(t *testing.T) {
	loader := &memLoader{
		docs: []types.KnowledgeDocument{
			doc("d-v1", "Compressor manual", types.DocManual, 1),
			doc("d-v2", "Compressor manual", types.DocManual, 2),
		},
		chunks: []types.Chunk{
			chunk("c-old", "d-v1", 0, "Drain the compressor tank weekly"),
			chunk("c-new", "d-v2", 0, "Drain the compressor tank weekly"),
		},
	}
	e := newTestEngine(t, loader)

	results, err := e.Search(context.Background(), "drain compressor tank", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c-new", results[0].Chunk.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearch_ExactPhraseBeatsScatteredTerms(t *testing.T) {
	loader := &memLoader{
		docs: []types.KnowledgeDocument{
			doc("d1", "Guide", types.DocTroubleshootingGuide, 1),
		},
		chunks: []types.Chunk{
			chunk("c-scattered", "d1", 0, "The belt may slip; tension is adjusted near the motor"),
			chunk("c-phrase", "d1", 1, "Adjust the belt tension using the motor mount bolts"),
		},
	}
	e := newTestEngine(t, loader)

	results, err := e.Search(context.Background(), "belt tension", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "c-phrase", results[0].Chunk.ID)
}

func TestSearch_NoMatchReturnsEmptyNotError(t *testing.T) {
	loader := &memLoader{
		docs:   []types.KnowledgeDocument{doc("d1", "Guide", types.DocManual, 1)},
		chunks: []types.Chunk{chunk("c1", "d1", 0, "Lubricate the bearings monthly")},
	}
	e := newTestEngine(t, loader)

	results, err := e.Search(context.Background(), "zebra xylophone", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Stopword-only and empty queries behave the same way.
	results, err = e.Search(context.Background(), "the and of", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_EmptyCorpus(t *testing.T) {
	e := NewEngine(config.DefaultRetrievalConfig())
	results, err := e.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_LimitClampsResults(t *testing.T) {
	loader := &memLoader{
		docs: []types.KnowledgeDocument{doc("d1", "Guide", types.DocManual, 1)},
	}
	for i := 0; i < 10; i++ {
		loader.chunks = append(loader.chunks,
			chunk(fmt.Sprintf("c%02d", i), "d1", i, "replace the filter cartridge"))
	}
	e := newTestEngine(t, loader)

	results, err := e.Search(context.Background(), "filter cartridge", 3)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearch_CanceledContextDegradesToEmpty(t *testing.T) {
	loader := &memLoader{
		docs:   []types.KnowledgeDocument{doc("d1", "Guide", types.DocManual, 1)},
		chunks: []types.Chunk{chunk("c1", "d1", 0, "replace the filter cartridge")},
	}
	e := newTestEngine(t, loader)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := e.Search(ctx, "filter cartridge", 5)
	require.NoError(t, err, "a blown query budget is not an error")
	assert.Empty(t, results)
}

func TestSearch_CachedResultsMatchFreshSearch(t *testing.T) {
	loader := &memLoader{
		docs: []types.KnowledgeDocument{
			doc("d1", "Guide", types.DocTroubleshootingGuide, 1),
		},
		chunks: []types.Chunk{
			chunk("c1", "d1", 0, "Step 1: check the pump power"),
			chunk("c2", "d1", 1, "Step 2: check the pump fuse"),
		},
	}
	e := newTestEngine(t, loader)

	first, err := e.Search(context.Background(), "pump check", 5)
	require.NoError(t, err)
	second, err := e.Search(context.Background(), "pump check", 5)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("cached search diverged (-first +second):\n%s", diff)
	}

	// Reload drops the cache and the new corpus takes effect.
	loader.chunks = loader.chunks[:1]
	require.NoError(t, e.Reload(context.Background(), loader))
	third, err := e.Search(context.Background(), "pump check", 5)
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestSearch_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		docCount := rapid.IntRange(1, 4).Draw(t, "docs")
		loader := &memLoader{}
		words := []string{"pump", "fuse", "power", "belt", "motor", "filter", "valve", "tank"}
		for d := 0; d < docCount; d++ {
			id := fmt.Sprintf("d%d", d)
			loader.docs = append(loader.docs, doc(id, fmt.Sprintf("Doc %d", d%2),
				types.DocManual, rapid.IntRange(1, 3).Draw(t, "version")))
			for c := 0; c < rapid.IntRange(1, 5).Draw(t, "chunks"); c++ {
				n := rapid.IntRange(1, 6).Draw(t, "words")
				content := ""
				for w := 0; w < n; w++ {
					content += words[rapid.IntRange(0, len(words)-1).Draw(t, "word")] + " "
				}
				loader.chunks = append(loader.chunks,
					chunk(fmt.Sprintf("%s-c%d", id, c), id, c, content))
			}
		}

		e := NewEngine(config.DefaultRetrievalConfig())
		if err := e.Reload(context.Background(), loader); err != nil {
			t.Fatalf("reload: %v", err)
		}

		query := words[rapid.IntRange(0, len(words)-1).Draw(t, "q1")] + " " +
			words[rapid.IntRange(0, len(words)-1).Draw(t, "q2")]

		a, err := e.Search(context.Background(), query, 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		e.cache.Clear()
		b, err := e.Search(context.Background(), query, 10)
		if err != nil {
			t.Fatalf("search: %v", err)
		}
		if diff := cmp.Diff(a, b); diff != "" {
			t.Fatalf("non-deterministic ranking:\n%s", diff)
		}
	})
}

func TestTokenize(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"Pump won't start!", []string{"pump", "won", "start"}},
		{"THE the The", nil},
		{"", nil},
		{"fuse-panel reset", []string{"fuse", "panel", "reset"}},
	}
	for _, tc := range cases {
		got := tokenize(tc.in)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("tokenize(%q) mismatch:\n%s", tc.in, diff)
		}
	}
}

func TestExcerpt_MultibyteWindowEdges(t *testing.T) {
	// The padding shifts rune alignment so the raw window offsets land
	// mid-rune; the excerpt must still be valid UTF-8.
	for pad := 0; pad < 3; pad++ {
		leading := strings.Repeat("a", pad) + strings.Repeat("温", 200) + " pumpe stoppt"
		out := excerpt(leading, []string{"pumpe"})
		assert.True(t, utf8.ValidString(out), "leading runes, pad %d", pad)
		assert.Contains(t, out, "pumpe")

		trailing := "pumpe " + strings.Repeat("a", pad) + strings.Repeat("温", 200)
		out = excerpt(trailing, []string{"pumpe"})
		assert.True(t, utf8.ValidString(out), "trailing runes, pad %d", pad)
	}
}

func TestResultCacheTTL(t *testing.T) {
	c := newResultCache(2, 10*time.Millisecond)
	c.Set("q", []Result{{Score: 0.5}})

	_, ok := c.Get("q")
	assert.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.Get("q")
	assert.False(t, ok, "expired entries are misses")

	// Capacity eviction keeps the cache bounded.
	c.Set("a", nil)
	c.Set("b", nil)
	c.Set("c", nil)
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	assert.LessOrEqual(t, size, 2)
}
