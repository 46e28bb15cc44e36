package keyring

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/perimetra/sigil/sigerr"
)

// maxKeyBodyBytes bounds how much of a key endpoint response is read.
const maxKeyBodyBytes = 1024

// HTTPSource fetches public keys from an HTTP endpoint. A key id resolves
// to GET <baseURL>/<escaped key id>; the response body is either 32 raw
// key bytes or their hex encoding. A 404 means the source does not know
// the key.
type HTTPSource struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewHTTPSource builds an HTTP key source. A nil client falls back to
// http.DefaultClient; cancellation and timeouts come from the chain's
// per-source context.
func NewHTTPSource(name, baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPSource{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// Name implements Source.
func (s *HTTPSource) Name() string { return s.name }

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, keyID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+url.PathEscape(keyID), nil)
	if err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindKeyResolution, CodeSourceError,
			"key request cannot be built")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindKeyResolution, CodeSourceError,
			"key request failed").With("source", s.name)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, sigerr.Newf(sigerr.KindKeyResolution, CodeSourceError,
			"key endpoint returned status %d", resp.StatusCode).With("source", s.name)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyBodyBytes))
	if err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindKeyResolution, CodeSourceError,
			"key response cannot be read").With("source", s.name)
	}

	return decodeKeyBody(body)
}

// decodeKeyBody accepts raw 32-byte key material or its hex encoding.
func decodeKeyBody(body []byte) ([]byte, error) {
	if len(body) == ed25519.PublicKeySize {
		return body, nil
	}

	text := strings.TrimSpace(string(body))
	if raw, err := hex.DecodeString(text); err == nil && len(raw) == ed25519.PublicKeySize {
		return raw, nil
	}

	return nil, sigerr.Newf(sigerr.KindKeyResolution, CodeSourceError,
		"key endpoint returned %d bytes of unrecognized key material", len(body))
}
