package inspect

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perimetra/sigil/keyring"
	"github.com/perimetra/sigil/sigbase"
	"github.com/perimetra/sigil/signer"
	"github.com/perimetra/sigil/verifier"
)

const (
	testKeyID = "key-1"
	goodInput = `sig1=("@method" "@target-uri");created=1700000000;keyid="key-1";alg="ed25519";nonce="3fa85f64-5717-4562-b3fc-2c963f66afa6"`
)

func testKeys(t *testing.T) (*keyring.Static, *keyring.Static) {
	t.Helper()

	seed := bytes.Repeat([]byte{0x11}, ed25519.SeedSize)
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)

	private := keyring.NewStatic().AddPrivate(testKeyID, seed)
	public := keyring.NewStatic().AddPublic(testKeyID, pub)

	return private, public
}

// signedHeaders produces real wire headers from a signing operation.
func signedHeaders(t *testing.T) http.Header {
	t.Helper()

	private, _ := testKeys(t)
	s, err := signer.New(signer.Config{Keys: private, KeyID: testKeyID})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/orders", nil)
	require.NoError(t, err)

	_, err = s.SignRequest(req, nil)
	require.NoError(t, err)

	return req.Header
}

func codes(findings []Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Code)
	}
	return out
}

func errorCodes(findings []Finding) []string {
	var out []string
	for _, f := range findings {
		if f.Severity == SeverityError {
			out = append(out, f.Code)
		}
	}
	return out
}

func headerWith(input, signature string) http.Header {
	h := http.Header{}
	if input != "" {
		h.Set("Signature-Input", input)
	}
	if signature != "" {
		h.Set("Signature", signature)
	}
	return h
}

func validSignatureValue() string {
	return "sig1=:" + string(bytes.Repeat([]byte("ab"), 64)) + ":"
}

func TestLint(t *testing.T) {
	t.Run("clean headers", func(t *testing.T) {
		findings := Lint(signedHeaders(t))

		assert.Empty(t, errorCodes(findings))
		assert.Contains(t, codes(findings), CodeNoDigest)
	})

	t.Run("both headers absent", func(t *testing.T) {
		findings := Lint(http.Header{})

		assert.ElementsMatch(t,
			[]string{CodeMissingSignatureInput, CodeMissingSignature},
			codes(findings))
	})

	t.Run("signature header absent", func(t *testing.T) {
		findings := Lint(headerWith(goodInput, ""))

		assert.Contains(t, errorCodes(findings), CodeMissingSignature)
	})

	t.Run("unquoted component", func(t *testing.T) {
		input := `sig1=(@method "@target-uri");created=1700000000;keyid="k";alg="ed25519";nonce="n"`
		findings := Lint(headerWith(input, validSignatureValue()))

		assert.Contains(t, codes(findings), CodeUnquotedComponent)
	})

	t.Run("unknown pseudo component", func(t *testing.T) {
		input := `sig1=("@method" "@host");created=1700000000;keyid="k";alg="ed25519";nonce="n"`
		findings := Lint(headerWith(input, validSignatureValue()))

		assert.Contains(t, errorCodes(findings), CodeUnknownPseudo)
	})

	t.Run("missing parameter", func(t *testing.T) {
		input := `sig1=("@method");created=1700000000;keyid="k";alg="ed25519"`
		findings := Lint(headerWith(input, validSignatureValue()))

		assert.Contains(t, errorCodes(findings), CodeMissingParam)
	})

	t.Run("created not an integer", func(t *testing.T) {
		input := `sig1=("@method");created=soon;keyid="k";alg="ed25519";nonce="n"`
		findings := Lint(headerWith(input, validSignatureValue()))

		assert.Contains(t, errorCodes(findings), CodeMalformedParam)
	})

	t.Run("unparenthesized coverage", func(t *testing.T) {
		input := `sig1="@method";created=1700000000;keyid="k";alg="ed25519";nonce="n"`
		findings := Lint(headerWith(input, validSignatureValue()))

		assert.Contains(t, errorCodes(findings), CodeMalformedCoverage)
	})

	t.Run("short signature", func(t *testing.T) {
		findings := Lint(headerWith(goodInput, "sig1=:abcdef:"))

		assert.Contains(t, errorCodes(findings), CodeWrongSignatureLength)
	})

	t.Run("non hex signature", func(t *testing.T) {
		findings := Lint(headerWith(goodInput, "sig1=:xyz!:"))

		assert.Contains(t, errorCodes(findings), CodeBadSignatureShape)
	})

	t.Run("uppercase hex rejected", func(t *testing.T) {
		upper := "sig1=:" + string(bytes.Repeat([]byte("AB"), 64)) + ":"
		findings := Lint(headerWith(goodInput, upper))

		assert.Contains(t, errorCodes(findings), CodeBadSignatureShape)
	})

	t.Run("label mismatch", func(t *testing.T) {
		findings := Lint(headerWith(goodInput, "sig2=:abcd:"))

		assert.Contains(t, errorCodes(findings), CodeLabelMismatch)
	})

	t.Run("malformed content digest", func(t *testing.T) {
		h := headerWith(goodInput, validSignatureValue())
		h.Set("Content-Digest", "garbage")
		findings := Lint(h)

		assert.Contains(t, errorCodes(findings), CodeMalformedDigest)
	})

	t.Run("multiple members noted", func(t *testing.T) {
		h := headerWith(goodInput+", "+goodInput, validSignatureValue())
		findings := Lint(h)

		assert.Contains(t, codes(findings), CodeExtraMembers)
	})
}

func TestInspectParams(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	params := func(age time.Duration) sigbase.Params {
		return sigbase.Params{
			Created: now.Add(-age).Unix(),
			KeyID:   testKeyID,
			Alg:     sigbase.AlgorithmEd25519,
			Nonce:   "3fa85f64-5717-4562-b3fc-2c963f66afa6",
		}
	}

	t.Run("freshness buckets", func(t *testing.T) {
		tests := []struct {
			age  time.Duration
			want string
		}{
			{time.Minute, FreshnessFresh},
			{30 * time.Minute, FreshnessRecent},
			{2 * time.Hour, FreshnessStale},
			{-10 * time.Second, FreshnessFuture},
		}

		for _, tc := range tests {
			insight := InspectParams(params(tc.age), now)
			assert.Equal(t, tc.want, insight.Freshness, tc.age.String())
			assert.True(t, insight.NonceValid)
			assert.True(t, insight.CreatedInRange)
		}
	})

	t.Run("bad nonce and range", func(t *testing.T) {
		p := params(time.Minute)
		p.Nonce = "not-a-uuid"
		p.Created = 100

		insight := InspectParams(p, now)

		assert.False(t, insight.NonceValid)
		assert.False(t, insight.CreatedInRange)
	})
}

func TestScore(t *testing.T) {
	a := Score([]string{"@method", "@target-uri", "content-digest"})

	assert.Equal(t, 80, a.Score)
	assert.Equal(t, verifier.LevelHigh, a.Level)
}

func TestRenderReport(t *testing.T) {
	t.Run("nil result", func(t *testing.T) {
		assert.Equal(t, "no verification result\n", RenderReport(nil))
	})

	t.Run("valid result", func(t *testing.T) {
		private, public := testKeys(t)

		s, err := signer.New(signer.Config{Keys: private, KeyID: testKeyID})
		require.NoError(t, err)

		v, err := verifier.New(verifier.Config{Keys: public})
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, "https://api.example.com/orders", nil)
		require.NoError(t, err)
		_, err = s.SignRequest(req, nil)
		require.NoError(t, err)

		result := v.VerifyRequest(context.Background(), req, nil)
		report := RenderReport(result)

		assert.Contains(t, report, "status: valid")
		assert.Contains(t, report, "signature valid: true")
		assert.Contains(t, report, "format_valid: pass")
		assert.Contains(t, report, "cryptographic_valid: pass")
		assert.Contains(t, report, "label: sig1")
		assert.Contains(t, report, "key id: key-1")
		assert.Contains(t, report, "covered: @method, @target-uri")
		assert.Contains(t, report, "name: standard")
		assert.Contains(t, report, "score: 50/100 (medium)")
		assert.Contains(t, report, "timings:")
	})

	t.Run("error result", func(t *testing.T) {
		_, public := testKeys(t)

		v, err := verifier.New(verifier.Config{Keys: public})
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, "https://api.example.com/orders", nil)
		require.NoError(t, err)

		result := v.VerifyRequest(context.Background(), req, nil)
		report := RenderReport(result)

		assert.Contains(t, report, "status: error")
		assert.Contains(t, report, "error: sigil:")
		assert.Contains(t, report, "format_valid: fail")
	})
}
