package sigbase

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/sigmsg"
)

var testParams = Params{
	Created: 1700000000,
	KeyID:   "key-1",
	Alg:     "ed25519",
	Nonce:   "3fa85f64-5717-4562-b3fc-2c963f66afa6",
}

func newMessage(t *testing.T, method, rawURL string) *sigmsg.Message {
	t.Helper()
	m, err := sigmsg.New(method, rawURL)
	require.NoError(t, err)
	return m
}

func TestBuild(t *testing.T) {
	t.Run("minimal coverage has exactly two component lines", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/orders?limit=5")

		canonical, covered, err := Build(msg, sigmsg.DefaultComponents(), testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		want := `"@method": GET` + "\n" +
			`"@target-uri": /orders?limit=5` + "\n" +
			`"@signature-params": ("@method" "@target-uri");created=1700000000;keyid="key-1";alg="ed25519";nonce="3fa85f64-5717-4562-b3fc-2c963f66afa6"`

		assert.Equal(t, want, string(canonical))
		assert.Equal(t, []string{"@method", "@target-uri"}, covered)
	})

	t.Run("no trailing newline", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		canonical, _, err := Build(msg, sigmsg.DefaultComponents(), testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		assert.False(t, strings.HasSuffix(string(canonical), "\n"))
	})

	t.Run("path defaults to slash", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com")

		canonical, _, err := Build(msg, sigmsg.DefaultComponents(), testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		assert.Contains(t, string(canonical), `"@target-uri": /`+"\n")
	})

	t.Run("method is upcased by the message", func(t *testing.T) {
		msg := newMessage(t, "post", "https://api.example.com/")

		canonical, _, err := Build(msg, sigmsg.DefaultComponents(), testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		assert.Contains(t, string(canonical), `"@method": POST`)
	})

	t.Run("headers in configured order", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")
		msg.SetHeader("x-b", "2").SetHeader("x-a", "1")

		c := sigmsg.DefaultComponents().WithHeaders("x-b", "x-a")

		canonical, covered, err := Build(msg, c, testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		lines := strings.Split(string(canonical), "\n")
		require.Len(t, lines, 5)
		assert.Equal(t, `"x-b": 2`, lines[2])
		assert.Equal(t, `"x-a": 1`, lines[3])
		assert.Equal(t, []string{"@method", "@target-uri", "x-b", "x-a"}, covered)
	})

	t.Run("header value quotes escaped", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")
		msg.SetHeader("x-note", `say "hi"`)

		c := sigmsg.DefaultComponents().WithHeaders("x-note")

		canonical, _, err := Build(msg, c, testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		assert.Contains(t, string(canonical), `"x-note": say \"hi\"`)
	})

	t.Run("absent header skipped and excluded from covered list", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		c := sigmsg.DefaultComponents().WithHeaders("x-missing")

		canonical, covered, err := Build(msg, c, testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		assert.NotContains(t, string(canonical), "x-missing")
		assert.Equal(t, []string{"@method", "@target-uri"}, covered)
	})

	t.Run("strict mode fails on absent header", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		c := sigmsg.DefaultComponents().WithHeaders("x-missing")

		_, _, err := Build(msg, c, testParams, sigmsg.ContentDigest{}, BuildConfig{Strict: true})
		require.Error(t, err)
		assert.Equal(t, CodeMissingHeader, sigerr.CodeOf(err))
		assert.Equal(t, sigerr.KindValidation, sigerr.KindOf(err))
	})

	t.Run("required header enforced in lenient mode", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		c := sigmsg.DefaultComponents().WithHeaders("authorization")

		_, _, err := Build(msg, c, testParams, sigmsg.ContentDigest{}, BuildConfig{Required: []string{"authorization"}})
		require.Error(t, err)
		assert.Equal(t, CodeMissingHeader, sigerr.CodeOf(err))
	})

	t.Run("content digest line uses header form", func(t *testing.T) {
		msg := newMessage(t, "POST", "https://api.example.com/orders")
		msg.SetBodyString(`{"a":1}`)

		digest, err := sigmsg.ComputeDigest(msg.Body(), sigmsg.DigestSHA256)
		require.NoError(t, err)

		c := sigmsg.DefaultComponents().WithContentDigest()

		canonical, covered, err := Build(msg, c, testParams, digest, BuildConfig{})
		require.NoError(t, err)

		assert.Contains(t, string(canonical), `"content-digest": `+digest.HeaderValue())
		assert.Equal(t, []string{"@method", "@target-uri", "content-digest"}, covered)
	})

	t.Run("zero digest falls back to empty body digest", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		c := sigmsg.DefaultComponents().WithContentDigest()

		canonical, _, err := Build(msg, c, testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		empty, err := sigmsg.ComputeDigest(nil, sigmsg.DigestSHA256)
		require.NoError(t, err)
		assert.Contains(t, string(canonical), empty.HeaderValue())
	})

	t.Run("empty components rejected", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		_, _, err := Build(msg, sigmsg.Components{}, testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.Error(t, err)
		assert.Equal(t, CodeEmptyComponents, sigerr.CodeOf(err))
	})

	t.Run("deterministic for identical inputs", func(t *testing.T) {
		build := func() []byte {
			msg := newMessage(t, "POST", "https://api.example.com/orders")
			msg.SetHeader("content-type", "application/json")
			msg.SetBodyString(`{"a":1}`)

			digest, err := sigmsg.ComputeDigest(msg.Body(), sigmsg.DigestSHA256)
			require.NoError(t, err)

			c := sigmsg.DefaultComponents().WithHeaders("content-type").WithContentDigest()

			canonical, _, err := Build(msg, c, testParams, digest, BuildConfig{})
			require.NoError(t, err)
			return canonical
		}

		first := build()
		for range 10 {
			assert.Equal(t, first, build())
		}
	})
}

func TestTargetURI(t *testing.T) {
	t.Run("path and query", func(t *testing.T) {
		got, err := TargetURI("https://api.example.com/orders?limit=5&page=2")
		require.NoError(t, err)
		assert.Equal(t, "/orders?limit=5&page=2", got)
	})

	t.Run("empty path", func(t *testing.T) {
		got, err := TargetURI("http://api.example.com")
		require.NoError(t, err)
		assert.Equal(t, "/", got)
	})

	t.Run("empty query dropped", func(t *testing.T) {
		got, err := TargetURI("https://api.example.com/orders")
		require.NoError(t, err)
		assert.Equal(t, "/orders", got)
	})

	t.Run("rejects non-http scheme", func(t *testing.T) {
		_, err := TargetURI("ftp://api.example.com/file")
		require.Error(t, err)
		assert.Equal(t, CodeInvalidURL, sigerr.CodeOf(err))
		assert.Equal(t, sigerr.KindValidation, sigerr.KindOf(err))
	})

	t.Run("rejects missing host", func(t *testing.T) {
		_, err := TargetURI("https:///orders")
		require.Error(t, err)
		assert.Equal(t, CodeInvalidURL, sigerr.CodeOf(err))
	})

	t.Run("rejects relative url", func(t *testing.T) {
		_, err := TargetURI("/orders")
		assert.Error(t, err)
	})
}

func TestBuildFromList(t *testing.T) {
	t.Run("reproduces build output", func(t *testing.T) {
		msg := newMessage(t, "POST", "https://api.example.com/orders?limit=5")
		msg.SetHeader("content-type", "application/json")
		msg.SetBodyString(`{"a":1}`)

		digest, err := sigmsg.ComputeDigest(msg.Body(), sigmsg.DigestSHA256)
		require.NoError(t, err)

		c := sigmsg.DefaultComponents().WithHeaders("content-type").WithContentDigest()

		signed, covered, err := Build(msg, c, testParams, digest, BuildConfig{})
		require.NoError(t, err)

		reconstructed, err := BuildFromList(msg, covered, testParams, digest)
		require.NoError(t, err)

		assert.Equal(t, signed, reconstructed)
	})

	t.Run("claimed but absent header changes the bytes", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")
		msg.SetHeader("x-tenant", "acme")

		c := sigmsg.DefaultComponents().WithHeaders("x-tenant")

		signed, covered, err := Build(msg, c, testParams, sigmsg.ContentDigest{}, BuildConfig{})
		require.NoError(t, err)

		// Header stripped in transit.
		stripped := newMessage(t, "GET", "https://api.example.com/")

		reconstructed, err := BuildFromList(stripped, covered, testParams, sigmsg.ContentDigest{})
		require.NoError(t, err)

		// The claimed list renders verbatim, the line disappears.
		assert.NotEqual(t, signed, reconstructed)
		assert.Contains(t, string(reconstructed), `"x-tenant"`)
		assert.NotContains(t, string(reconstructed), `"x-tenant": acme`)
	})

	t.Run("list order drives line order", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")
		msg.SetHeader("x-a", "1")

		canonical, err := BuildFromList(msg, []string{"x-a", "@method"}, testParams, sigmsg.ContentDigest{})
		require.NoError(t, err)

		lines := strings.Split(string(canonical), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, `"x-a": 1`, lines[0])
		assert.Equal(t, `"@method": GET`, lines[1])
	})

	t.Run("unknown pseudo component fails", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		_, err := BuildFromList(msg, []string{"@authority"}, testParams, sigmsg.ContentDigest{})
		require.Error(t, err)
		assert.Equal(t, CodeUnknownComponent, sigerr.CodeOf(err))
		assert.Equal(t, sigerr.KindFormat, sigerr.KindOf(err))
	})

	t.Run("empty list fails", func(t *testing.T) {
		msg := newMessage(t, "GET", "https://api.example.com/")

		_, err := BuildFromList(msg, nil, testParams, sigmsg.ContentDigest{})
		require.Error(t, err)
		assert.Equal(t, CodeEmptyComponents, sigerr.CodeOf(err))
	})
}
