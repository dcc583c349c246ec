package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kofalt/go-memoize"
)

const (
	cacheTTL     = time.Hour
	cacheCleanup = 10 * time.Minute
)

// Cache wraps a Provider so repeated publishes of unchanged content do
// not re-embed. Entries are keyed by provider name and content hash and
// expire after an hour.
type Cache struct {
	provider Provider
	memo     *memoize.Memoizer
}

// NewCache creates a caching wrapper around p.
func NewCache(p Provider) *Cache {
	return &Cache{
		provider: p,
		memo:     memoize.NewMemoizer(cacheTTL, cacheCleanup),
	}
}

func (c *Cache) Name() string { return c.provider.Name() }

// Embed returns cached vectors where available and calls the wrapped
// provider once with the remaining texts.
func (c *Cache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int

	for i, text := range texts {
		keys[i] = c.key(text)
		if v, ok := c.memo.Storage.Get(keys[i]); ok {
			vectors[i] = v.([]float32)
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	batch := make([]string, len(missing))
	for j, i := range missing {
		batch[j] = texts[i]
	}
	fresh, err := c.provider.Embed(ctx, batch)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(batch) {
		return nil, fmt.Errorf("provider %s returned %d vectors for %d texts", c.provider.Name(), len(fresh), len(batch))
	}
	for j, i := range missing {
		vectors[i] = fresh[j]
		c.memo.Storage.Set(keys[i], fresh[j], 0)
	}
	return vectors, nil
}

// EmbedOne embeds a single text. Concurrent calls for the same content
// share one provider request.
func (c *Cache) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vector, err, _ := memoize.Call(c.memo, c.key(text), func() ([]float32, error) {
		vectors, err := c.provider.Embed(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		if len(vectors) != 1 {
			return nil, fmt.Errorf("provider %s returned %d vectors for 1 text", c.provider.Name(), len(vectors))
		}
		return vectors[0], nil
	})
	return vector, err
}

func (c *Cache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding_cache:" + c.provider.Name() + ":" + hex.EncodeToString(sum[:])
}
