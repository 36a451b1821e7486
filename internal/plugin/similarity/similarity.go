// Package similarity ranks posts by cosine similarity of their embedding
// vectors.
package similarity

import (
	"context"
	"math"
	"sort"

	"github.com/bundlepress/api/internal/model"
	"github.com/bundlepress/api/internal/plugin"
)

// Engine computes pairwise cosine similarity and per-post top-N rankings.
// It requires the text-embedder capability: without vectors there is
// nothing to compare.
type Engine struct {
	ready bool
}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() plugin.Kind       { return plugin.KindSimilarity }
func (e *Engine) Requires() []plugin.Kind { return []plugin.Kind{plugin.KindTextEmbedder} }
func (e *Engine) Ready() bool             { return e.ready }

func (e *Engine) Initialize(ctx context.Context, pctx *plugin.Context) error {
	e.ready = true
	return nil
}

func (e *Engine) Dispose() error {
	e.ready = false
	return nil
}

// Score computes the cosine similarity between two vectors.
// Returns 0 for mismatched lengths or zero-norm inputs.
func (e *Engine) Score(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Map computes all pairwise scores and retains, per owner, the topN most
// similar owners. Rankings are deterministic: descending score, ties broken
// by ascending owner hash. Zero-length vectors are excluded.
func (e *Engine) Map(vectors []model.EmbeddingVector, topN int) (*model.SimilarityMap, error) {
	out := &model.SimilarityMap{
		Pairwise: make(map[string]map[string]float64),
		Similar:  make(map[string][]model.SimilarPost),
	}

	usable := make([]model.EmbeddingVector, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Values) > 0 {
			usable = append(usable, v)
		}
	}
	// deterministic pair iteration regardless of input order
	sort.Slice(usable, func(i, j int) bool { return usable[i].OwnerHash < usable[j].OwnerHash })

	for i := range usable {
		for j := i + 1; j < len(usable); j++ {
			score := e.Score(usable[i].Values, usable[j].Values)
			addPairwise(out.Pairwise, usable[i].OwnerHash, usable[j].OwnerHash, score)
			addPairwise(out.Pairwise, usable[j].OwnerHash, usable[i].OwnerHash, score)
		}
	}

	for _, v := range usable {
		ranked := make([]model.SimilarPost, 0, len(usable)-1)
		for other, score := range out.Pairwise[v.OwnerHash] {
			ranked = append(ranked, model.SimilarPost{Hash: other, Score: score})
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].Score != ranked[j].Score {
				return ranked[i].Score > ranked[j].Score
			}
			return ranked[i].Hash < ranked[j].Hash
		})
		if topN > 0 && len(ranked) > topN {
			ranked = ranked[:topN]
		}
		out.Similar[v.OwnerHash] = ranked
	}

	return out, nil
}

func addPairwise(pairwise map[string]map[string]float64, from, to string, score float64) {
	if pairwise[from] == nil {
		pairwise[from] = make(map[string]float64)
	}
	pairwise[from][to] = score
}
