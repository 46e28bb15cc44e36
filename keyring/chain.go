package keyring

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/perimetra/sigil/sigerr"
)

// DefaultSourceTimeout bounds a single source lookup when the chain is
// built without an explicit timeout.
const DefaultSourceTimeout = 5 * time.Second

// Source retrieves public key bytes for a key id from somewhere external.
// Returning (nil, nil) means the source does not know the key; an error
// means the source itself failed. Both let the chain move on.
type Source interface {
	Name() string
	Fetch(ctx context.Context, keyID string) ([]byte, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context, keyID string) ([]byte, error)
}

// NewSource wraps fn as a named Source.
func NewSource(name string, fn func(ctx context.Context, keyID string) ([]byte, error)) SourceFunc {
	return SourceFunc{SourceName: name, Fn: fn}
}

// Name implements Source.
func (s SourceFunc) Name() string { return s.SourceName }

// Fetch implements Source.
func (s SourceFunc) Fetch(ctx context.Context, keyID string) ([]byte, error) {
	return s.Fn(ctx, keyID)
}

// Chain tries an ordered list of sources until one produces key bytes.
// Each lookup gets its own timeout; a failing or timing-out source is
// logged and skipped rather than aborting the whole resolution.
type Chain struct {
	sources []Source
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChain builds a chain over sources. A non-positive timeout falls back
// to DefaultSourceTimeout. A nil logger disables chain logging.
func NewChain(timeout time.Duration, logger *zerolog.Logger, sources ...Source) *Chain {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}

	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}

	return &Chain{
		sources: append([]Source(nil), sources...),
		timeout: timeout,
		logger:  l,
	}
}

// Len returns the number of sources in the chain.
func (c *Chain) Len() int {
	return len(c.sources)
}

// Resolve walks the chain in order and returns the first key found.
// Exhausting every source is a key-not-found error carrying the names of
// the attempted sources; a canceled context stops the walk immediately.
func (c *Chain) Resolve(ctx context.Context, keyID string) ([]byte, error) {
	attempted := make([]string, 0, len(c.sources))

	for _, source := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, sigerr.Wrap(err, sigerr.KindKeyResolution, CodeResolutionCanceled,
				"key resolution canceled").With("key_id", keyID)
		}

		attempted = append(attempted, source.Name())

		key, err := c.fetchOne(ctx, source, keyID)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Str("source", source.Name()).
				Str("key_id", keyID).
				Msg("key source failed, trying next")
			continue
		}

		if len(key) == 0 {
			c.logger.Debug().
				Str("source", source.Name()).
				Str("key_id", keyID).
				Msg("key source has no key")
			continue
		}

		c.logger.Debug().
			Str("source", source.Name()).
			Str("key_id", keyID).
			Msg("key resolved")

		return key, nil
	}

	return nil, sigerr.New(sigerr.KindKeyResolution, CodeKeyNotFound,
		"no key source produced a key").
		With("key_id", keyID).
		With("attempted", attempted)
}

// fetchOne runs a single source lookup under the per-source timeout.
func (c *Chain) fetchOne(ctx context.Context, source Source, keyID string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return source.Fetch(fetchCtx, keyID)
}
