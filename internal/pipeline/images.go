package pipeline

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pavelanni/exambench/internal/llm"
	"github.com/pavelanni/exambench/internal/llm/prompts"
	"github.com/pavelanni/exambench/internal/model"
)

// DefaultImageCacheSize bounds the number of cached image summaries.
const DefaultImageCacheSize = 512

type imageKey struct {
	bindingID string
	url       string
}

// ImageCache holds vision summaries keyed by binding and image URL.
type ImageCache struct {
	cache *lru.Cache[imageKey, string]
}

// NewImageCache creates a cache holding up to size summaries.
func NewImageCache(size int) (*ImageCache, error) {
	c, err := lru.New[imageKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("create image cache: %w", err)
	}
	return &ImageCache{cache: c}, nil
}

// Get returns the cached summary of url produced by bindingID.
func (c *ImageCache) Get(bindingID, url string) (string, bool) {
	return c.cache.Get(imageKey{bindingID, url})
}

// Add stores a summary.
func (c *ImageCache) Add(bindingID, url, summary string) {
	c.cache.Add(imageKey{bindingID, url}, summary)
}

// Len returns the number of cached summaries.
func (c *ImageCache) Len() int { return c.cache.Len() }

// imageSummaries describes every image of a question with the vision
// binding, consulting the cache first. Usage of uncached calls is added to
// usage.
func (p *Pipeline) imageSummaries(ctx context.Context, q model.Question, usage *model.Usage) ([]string, error) {
	if len(q.Images) == 0 || p.vision == nil {
		return nil, nil
	}
	bindingID := p.vision.Binding().ID
	out := make([]string, 0, len(q.Images))
	for _, url := range q.Images {
		if s, ok := p.images.Get(bindingID, url); ok {
			out = append(out, s)
			continue
		}
		comp, err := p.vision.Complete(ctx, llm.Request{Messages: []llm.Message{{
			Role:    "user",
			Content: prompts.ImageSummary(),
			Images:  []string{url},
		}}})
		if err != nil {
			return nil, fmt.Errorf("describe image: %w", err)
		}
		*usage = usage.Add(comp.Usage)
		s := strings.TrimSpace(comp.Text)
		if s == "" {
			return nil, fmt.Errorf("describe image: empty description")
		}
		p.images.Add(bindingID, url, s)
		out = append(out, s)
	}
	return out, nil
}
