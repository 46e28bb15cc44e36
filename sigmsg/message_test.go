package sigmsg

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/sigil/sigerr"
)

func TestNew(t *testing.T) {
	t.Run("accepts standard verbs", func(t *testing.T) {
		for _, method := range []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "TRACE", "CONNECT"} {
			m, err := New(method, "https://api.example.com/orders")
			require.NoError(t, err, method)
			assert.Equal(t, method, m.Method())
		}
	})

	t.Run("upcases method", func(t *testing.T) {
		m, err := New("post", "https://api.example.com/orders")
		require.NoError(t, err)
		assert.Equal(t, "POST", m.Method())
	})

	t.Run("rejects unknown verb", func(t *testing.T) {
		_, err := New("FETCH", "https://api.example.com/orders")
		require.Error(t, err)
		assert.Equal(t, sigerr.KindValidation, sigerr.KindOf(err))
		assert.Equal(t, CodeInvalidMethod, sigerr.CodeOf(err))
	})

	t.Run("rejects empty method", func(t *testing.T) {
		_, err := New("", "https://api.example.com/orders")
		assert.Error(t, err)
	})
}

func TestMessageHeaders(t *testing.T) {
	newMessage := func(t *testing.T) *Message {
		t.Helper()
		m, err := New("GET", "https://api.example.com/")
		require.NoError(t, err)
		return m
	}

	t.Run("keys are case-insensitive", func(t *testing.T) {
		m := newMessage(t)
		m.SetHeader("Content-Type", "application/json")

		v, ok := m.Header("content-type")
		require.True(t, ok)
		assert.Equal(t, "application/json", v)

		v, ok = m.Header("CONTENT-TYPE")
		require.True(t, ok)
		assert.Equal(t, "application/json", v)
	})

	t.Run("last writer wins", func(t *testing.T) {
		m := newMessage(t)
		m.SetHeader("X-Env", "staging")
		m.SetHeader("x-env", "production")

		v, ok := m.Header("X-Env")
		require.True(t, ok)
		assert.Equal(t, "production", v)
	})

	t.Run("set headers resolves case variants deterministically", func(t *testing.T) {
		// Sorted key order means "x-tag" is applied after "X-Tag".
		for range 20 {
			m := newMessage(t)
			m.SetHeaders(map[string]string{
				"X-Tag": "upper",
				"x-tag": "lower",
			})

			v, ok := m.Header("x-tag")
			require.True(t, ok)
			assert.Equal(t, "lower", v)
		}
	})

	t.Run("headers returns a copy", func(t *testing.T) {
		m := newMessage(t)
		m.SetHeader("x-one", "1")

		h := m.Headers()
		h["x-one"] = "mutated"

		v, _ := m.Header("x-one")
		assert.Equal(t, "1", v)
	})

	t.Run("header names are sorted", func(t *testing.T) {
		m := newMessage(t)
		m.SetHeader("zulu", "z").SetHeader("alpha", "a").SetHeader("mike", "m")

		assert.Equal(t, []string{"alpha", "mike", "zulu"}, m.HeaderNames())
	})
}

func TestMessageBody(t *testing.T) {
	t.Run("set body copies input", func(t *testing.T) {
		m, err := New("POST", "https://api.example.com/")
		require.NoError(t, err)

		src := []byte(`{"a":1}`)
		m.SetBody(src)
		src[0] = 'X'

		assert.Equal(t, []byte(`{"a":1}`), m.Body())
	})

	t.Run("nil body", func(t *testing.T) {
		m, err := New("GET", "https://api.example.com/")
		require.NoError(t, err)

		assert.Nil(t, m.Body())
		assert.False(t, m.HasBody())
	})

	t.Run("string body", func(t *testing.T) {
		m, err := New("POST", "https://api.example.com/")
		require.NoError(t, err)

		m.SetBodyString("payload")
		assert.True(t, m.HasBody())
		assert.Equal(t, "payload", string(m.Body()))
	})
}

func TestClone(t *testing.T) {
	m, err := New("POST", "https://api.example.com/orders")
	require.NoError(t, err)
	m.SetHeader("content-type", "application/json")
	m.SetBodyString(`{"a":1}`)

	clone := m.Clone()
	clone.SetHeader("content-type", "text/plain")
	clone.SetBodyString("changed")

	v, _ := m.Header("content-type")
	assert.Equal(t, "application/json", v)
	assert.Equal(t, `{"a":1}`, string(m.Body()))
	assert.Equal(t, m.Method(), clone.Method())
	assert.Equal(t, m.URL(), clone.URL())
}

func TestFromRequest(t *testing.T) {
	t.Run("outbound request with absolute url", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://api.example.com/orders?limit=5", strings.NewReader(`{"a":1}`))
		req.Header.Set("Content-Type", "application/json")

		m, err := FromRequest(req)
		require.NoError(t, err)

		assert.Equal(t, "POST", m.Method())
		assert.Equal(t, "https://api.example.com/orders?limit=5", m.URL())

		v, ok := m.Header("content-type")
		require.True(t, ok)
		assert.Equal(t, "application/json", v)

		assert.Equal(t, `{"a":1}`, string(m.Body()))
	})

	t.Run("body remains readable", func(t *testing.T) {
		req := httptest.NewRequest("POST", "https://api.example.com/", strings.NewReader("payload"))

		_, err := FromRequest(req)
		require.NoError(t, err)

		rest, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(rest))
	})

	t.Run("multi-value headers joined", func(t *testing.T) {
		req := httptest.NewRequest("GET", "https://api.example.com/", nil)
		req.Header.Add("Accept", "application/json")
		req.Header.Add("Accept", "text/plain")

		m, err := FromRequest(req)
		require.NoError(t, err)

		v, ok := m.Header("accept")
		require.True(t, ok)
		assert.Equal(t, "application/json, text/plain", v)
	})

	t.Run("inbound request reconstructs absolute url", func(t *testing.T) {
		// httptest.NewRequest produces a server-side request: relative
		// URL, authority in Host.
		req := httptest.NewRequest("GET", "/orders?limit=5", nil)
		req.Host = "api.example.com"

		m, err := FromRequest(req)
		require.NoError(t, err)

		assert.Equal(t, "http://api.example.com/orders?limit=5", m.URL())

		host, ok := m.Header("host")
		require.True(t, ok)
		assert.Equal(t, "api.example.com", host)
	})

	t.Run("nil body", func(t *testing.T) {
		req := httptest.NewRequest("GET", "https://api.example.com/", nil)

		m, err := FromRequest(req)
		require.NoError(t, err)
		assert.False(t, m.HasBody())
	})
}
