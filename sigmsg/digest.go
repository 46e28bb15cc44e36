package sigmsg

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"strings"

	"github.com/perimetra/sigil/sigerr"
)

// HeaderContentDigest is the wire header carrying body digests, RFC 9530.
const HeaderContentDigest = "Content-Digest"

// DigestAlgorithm identifies the hash algorithm for Content-Digest
// per RFC 9530.
type DigestAlgorithm string

const (
	// DigestSHA256 uses SHA-256 for content digest.
	DigestSHA256 DigestAlgorithm = "sha-256"

	// DigestSHA512 uses SHA-512 for content digest.
	DigestSHA512 DigestAlgorithm = "sha-512"
)

// Error codes produced by this package.
const (
	CodeInvalidMethod         = "invalid_method"
	CodeUnreadableBody        = "unreadable_body"
	CodeUnknownComponent      = "unknown_component"
	CodeUnsupportedDigest     = "unsupported_digest"
	CodeMalformedDigestHeader = "malformed_digest_header"
)

// ContentDigest is a computed or wire-extracted body digest: the algorithm
// plus the raw hash bytes.
type ContentDigest struct {
	Algorithm DigestAlgorithm
	Digest    []byte
}

// ComputeDigest hashes body with the given algorithm. A nil body digests
// the empty byte string, so signed bodiless messages still carry a
// well-defined digest.
func ComputeDigest(body []byte, alg DigestAlgorithm) (ContentDigest, error) {
	switch alg {
	case DigestSHA256:
		h := sha256.Sum256(body)
		return ContentDigest{Algorithm: alg, Digest: h[:]}, nil
	case DigestSHA512:
		h := sha512.Sum512(body)
		return ContentDigest{Algorithm: alg, Digest: h[:]}, nil
	default:
		return ContentDigest{}, sigerr.Newf(sigerr.KindConfiguration, CodeUnsupportedDigest,
			"unsupported digest algorithm %q", string(alg))
	}
}

// ParseDigestHeader parses a Content-Digest header value. The header is a
// comma-separated dictionary of "alg=:base64:" entries; the first entry
// with a recognized algorithm wins.
func ParseDigestHeader(value string) (ContentDigest, error) {
	if strings.TrimSpace(value) == "" {
		return ContentDigest{}, sigerr.New(sigerr.KindFormat, CodeMalformedDigestHeader,
			"content digest header is empty")
	}

	for entry := range strings.SplitSeq(value, ",") {
		alg, encoded, ok := parseDigestEntry(strings.TrimSpace(entry))
		if !ok {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return ContentDigest{}, sigerr.Wrap(err, sigerr.KindFormat, CodeMalformedDigestHeader,
				"content digest value is not valid base64")
		}

		return ContentDigest{Algorithm: alg, Digest: raw}, nil
	}

	return ContentDigest{}, sigerr.Newf(sigerr.KindFormat, CodeMalformedDigestHeader,
		"no recognized digest entry in %q", value)
}

// parseDigestEntry parses a single "alg=:base64:" entry from the
// Content-Digest header.
func parseDigestEntry(entry string) (DigestAlgorithm, string, bool) {
	algStr, value, ok := strings.Cut(entry, "=")
	if !ok {
		return "", "", false
	}

	alg := DigestAlgorithm(strings.ToLower(strings.TrimSpace(algStr)))
	value = strings.TrimSpace(value)

	// Value must be :base64:
	if len(value) < 2 || value[0] != ':' || value[len(value)-1] != ':' {
		return "", "", false
	}

	encoded := value[1 : len(value)-1]

	switch alg {
	case DigestSHA256, DigestSHA512:
		return alg, encoded, true
	default:
		return "", "", false
	}
}

// Encoded returns the digest bytes as standard base64.
func (d ContentDigest) Encoded() string {
	return base64.StdEncoding.EncodeToString(d.Digest)
}

// HeaderValue renders the digest as a Content-Digest header value,
// "alg=:base64:".
func (d ContentDigest) HeaderValue() string {
	return string(d.Algorithm) + "=:" + d.Encoded() + ":"
}

// Matches recomputes the digest over body and compares it to d.
func (d ContentDigest) Matches(body []byte) bool {
	computed, err := ComputeDigest(body, d.Algorithm)
	if err != nil {
		return false
	}
	return bytes.Equal(computed.Digest, d.Digest)
}

// Zero reports whether d carries no digest.
func (d ContentDigest) Zero() bool {
	return d.Algorithm == "" && len(d.Digest) == 0
}
