package sigmsg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/sigil/sigerr"
)

func TestDefaultComponents(t *testing.T) {
	c := DefaultComponents()

	assert.True(t, c.CoversMethod())
	assert.True(t, c.CoversTargetURI())
	assert.False(t, c.CoversContentDigest())
	assert.Empty(t, c.Headers())
	assert.Equal(t, []string{"@method", "@target-uri"}, c.List())
}

func TestNewComponents(t *testing.T) {
	t.Run("full selection", func(t *testing.T) {
		c, err := NewComponents("@method", "@target-uri", "content-type", "x-request-id", "content-digest")
		require.NoError(t, err)

		assert.True(t, c.CoversMethod())
		assert.True(t, c.CoversTargetURI())
		assert.True(t, c.CoversContentDigest())
		assert.Equal(t, []string{"content-type", "x-request-id"}, c.Headers())
	})

	t.Run("headers lowercased", func(t *testing.T) {
		c, err := NewComponents("Content-Type", "X-Request-ID")
		require.NoError(t, err)

		assert.Equal(t, []string{"content-type", "x-request-id"}, c.Headers())
	})

	t.Run("duplicates keep first occurrence", func(t *testing.T) {
		c, err := NewComponents("content-type", "x-a", "Content-Type")
		require.NoError(t, err)

		assert.Equal(t, []string{"content-type", "x-a"}, c.Headers())
	})

	t.Run("unknown derived component rejected", func(t *testing.T) {
		_, err := NewComponents("@method", "@authority")
		require.Error(t, err)
		assert.Equal(t, sigerr.KindConfiguration, sigerr.KindOf(err))
		assert.Equal(t, CodeUnknownComponent, sigerr.CodeOf(err))
	})

	t.Run("empty identifier rejected", func(t *testing.T) {
		_, err := NewComponents("@method", "")
		assert.Error(t, err)
	})
}

func TestComponentsList(t *testing.T) {
	t.Run("canonical emission order", func(t *testing.T) {
		c, err := NewComponents("content-digest", "x-b", "@target-uri", "x-a", "@method")
		require.NoError(t, err)

		// Pseudo-components take fixed positions; headers keep their
		// configured order between them.
		assert.Equal(t, []string{"@method", "@target-uri", "x-b", "x-a", "content-digest"}, c.List())
	})

	t.Run("headers only", func(t *testing.T) {
		c, err := NewComponents("x-one", "x-two")
		require.NoError(t, err)

		assert.Equal(t, []string{"x-one", "x-two"}, c.List())
	})
}

func TestComponentsWith(t *testing.T) {
	t.Run("with headers does not mutate receiver", func(t *testing.T) {
		base := DefaultComponents()
		extended := base.WithHeaders("Content-Type")

		assert.Empty(t, base.Headers())
		assert.Equal(t, []string{"content-type"}, extended.Headers())
	})

	t.Run("with headers skips blanks and duplicates", func(t *testing.T) {
		c := DefaultComponents().WithHeaders("x-a", "", "X-A", "x-b")
		assert.Equal(t, []string{"x-a", "x-b"}, c.Headers())
	})

	t.Run("with content digest", func(t *testing.T) {
		c := DefaultComponents().WithContentDigest()
		assert.True(t, c.CoversContentDigest())
		assert.False(t, DefaultComponents().CoversContentDigest())
	})
}

func TestComponentsCovers(t *testing.T) {
	c, err := NewComponents("@method", "content-type", "content-digest")
	require.NoError(t, err)

	assert.True(t, c.Covers("@method"))
	assert.True(t, c.Covers("Content-Type"))
	assert.True(t, c.Covers("content-digest"))
	assert.False(t, c.Covers("@target-uri"))
	assert.False(t, c.Covers("authorization"))
}

func TestComponentsEmpty(t *testing.T) {
	assert.True(t, Components{}.Empty())
	assert.False(t, DefaultComponents().Empty())
}
