// Package speech synthesizes and replays spoken explanations.
package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/vango-go/scholar-lite/pkg/core"
)

const (
	DefaultModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice = "Kore"
	PromptPrefix = "Say clearly and concisely: "

	// SharedTimeout bounds one deduplicated synthesis, which no single
	// caller's context controls.
	SharedTimeout = 2 * time.Minute
)

// Synthesizer returns 24 kHz mono s16le PCM for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

// ErrNoAudio is returned when the provider answers without an audio payload.
var ErrNoAudio = core.NewProviderError("gemini", errors.New(core.MsgNoAudio))

// Cache keeps decoded PCM per utterance text. A different text is a different
// key, so edited text never replays stale audio.
type Cache struct {
	next  Synthesizer
	items *cache.Cache
	group singleflight.Group
}

func NewCache(next Synthesizer, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		next:  next,
		items: cache.New(ttl, 2*ttl),
	}
}

func (c *Cache) Synthesize(ctx context.Context, text string) ([]byte, error) {
	key := cacheKey(text)
	if v, ok := c.items.Get(key); ok {
		if pcm, ok := v.([]byte); ok {
			return pcm, nil
		}
	}

	// Concurrent callers share one synthesis. Each caller stops waiting on
	// its own ctx; the shared call is bounded by SharedTimeout alone.
	ch := c.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), SharedTimeout)
		defer cancel()
		pcm, err := c.next.Synthesize(sctx, text)
		if err != nil {
			return nil, err
		}
		if len(pcm) == 0 {
			return nil, ErrNoAudio
		}
		c.items.SetDefault(key, pcm)
		return pcm, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Len returns the number of cached utterances.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// Has reports whether audio for text is cached.
func (c *Cache) Has(text string) bool {
	_, ok := c.items.Get(cacheKey(text))
	return ok
}

// Forget drops the cached audio for text.
func (c *Cache) Forget(text string) {
	c.items.Delete(cacheKey(text))
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
