package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// LocalDim is the dimensionality of locally hashed vectors.
const LocalDim = 256

// Local is a deterministic provider that hashes tokens into a fixed
// number of buckets. It needs no network or API key, which makes it the
// default for development; overlapping vocabulary still produces higher
// similarity than unrelated text, but the scores are far coarser than a
// real embedding model's.
type Local struct{}

// NewLocal creates a local hashing provider.
func NewLocal() *Local { return &Local{} }

func (*Local) Name() string { return "local" }

func (*Local) Embed(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = hashVector(t)
	}
	return vectors, nil
}

func hashVector(text string) []float32 {
	vec := make([]float32, LocalDim)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		// The high bit picks the sign so unrelated tokens cancel out
		// rather than accumulate.
		sign := float32(1)
		if sum&0x80000000 != 0 {
			sign = -1
		}
		vec[sum%LocalDim] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
