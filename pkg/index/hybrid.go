package index

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Default fusion weights. Text relevance dominates because embedding
// similarity is already applied once at match time.
const (
	DefaultBM25Weight = 0.7
	DefaultKNNWeight  = 0.3
)

// Hybrid layers a BM25 text index over a vector index. Queries run both
// sides, min-max normalize each score list and fuse them with a
// weighted sum.
type Hybrid struct {
	vectors *Index
	text    bleve.Index

	bm25Weight float64
	knnWeight  float64
}

// NewHybrid creates a hybrid index over vectors. Weights ≤ 0 fall back
// to the defaults.
func NewHybrid(vectors *Index, bm25Weight, knnWeight float64) (*Hybrid, error) {
	if bm25Weight <= 0 {
		bm25Weight = DefaultBM25Weight
	}
	if knnWeight <= 0 {
		knnWeight = DefaultKNNWeight
	}

	text, err := newTextIndex()
	if err != nil {
		return nil, fmt.Errorf("creating text index: %w", err)
	}
	return &Hybrid{
		vectors:    vectors,
		text:       text,
		bm25Weight: bm25Weight,
		knnWeight:  knnWeight,
	}, nil
}

func newTextIndex() (bleve.Index, error) {
	indexMapping := mapping.NewIndexMapping()

	docMapping := mapping.NewDocumentMapping()
	descField := mapping.NewTextFieldMapping()
	descField.Analyzer = "en"
	docMapping.AddFieldMappingsAt("description", descField)
	docMapping.AddFieldMappingsAt("data_json", mapping.NewTextFieldMapping())

	indexMapping.DefaultMapping = docMapping

	return bleve.NewMemOnly(indexMapping)
}

// Upsert indexes the text representation of an entry. The vector side
// is written separately through the wrapped Index.
func (h *Hybrid) Upsert(key, description, dataJSON string) error {
	return h.text.Index(key, map[string]any{
		"description": description,
		"data_json":   dataJSON,
	})
}

// Delete removes the text document for key.
func (h *Hybrid) Delete(key string) error {
	return h.text.Delete(key)
}

// Close releases the text index.
func (h *Hybrid) Close() error {
	return h.text.Close()
}

// Search fuses BM25 and cosine results for the query. Either side may
// surface keys the other missed; a missing score counts as zero.
func (h *Hybrid) Search(queryText string, queryVector []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}

	bm25Keys, bm25Scores, err := h.bm25Search(queryText, k)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	knnResults := h.vectors.Search(queryVector, k)

	knnKeys := make([]string, len(knnResults))
	knnScores := make([]float64, len(knnResults))
	for i, r := range knnResults {
		knnKeys[i] = r.Key
		knnScores[i] = r.Similarity
	}

	fused := make(map[string]float64)
	for i, score := range normalizeScores(bm25Scores) {
		fused[bm25Keys[i]] += h.bm25Weight * score
	}
	for i, score := range normalizeScores(knnScores) {
		fused[knnKeys[i]] += h.knnWeight * score
	}

	results := make([]Result, 0, len(fused))
	for key, score := range fused {
		entry, ok := h.vectors.Get(key)
		if !ok {
			// Stale text document; the vector side is authoritative.
			continue
		}
		results = append(results, Result{
			Key:        key,
			Similarity: score,
			Payload:    entry.Payload,
			Sequence:   entry.Sequence,
		})
	}
	slices.SortFunc(results, func(a, b Result) int {
		return cmp.Or(
			cmp.Compare(b.Similarity, a.Similarity),
			strings.Compare(a.Key, b.Key),
		)
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (h *Hybrid) bm25Search(queryText string, k int) ([]string, []float64, error) {
	descQuery := bleve.NewMatchQuery(queryText)
	descQuery.SetField("description")
	descQuery.SetBoost(2)
	jsonQuery := bleve.NewMatchQuery(queryText)
	jsonQuery.SetField("data_json")

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(descQuery, jsonQuery))
	req.Size = k

	res, err := h.text.Search(req)
	if err != nil {
		return nil, nil, err
	}

	keys := make([]string, len(res.Hits))
	scores := make([]float64, len(res.Hits))
	for i, hit := range res.Hits {
		keys[i] = hit.ID
		scores[i] = hit.Score
	}
	return keys, scores, nil
}

// normalizeScores rescales scores to [0, 1] with min-max. A single
// score, or a list where every score is equal, normalizes to all ones.
func normalizeScores(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	normalized := make([]float64, len(scores))
	lo, hi := slices.Min(scores), slices.Max(scores)
	if hi == lo {
		for i := range normalized {
			normalized[i] = 1
		}
		return normalized
	}
	for i, s := range scores {
		normalized[i] = (s - lo) / (hi - lo)
	}
	return normalized
}
