// Package sigclient assembles http.Clients whose outgoing requests are
// signed automatically. The transport chain is fixed at construction:
// caller interceptors wrap a response-verifying layer, which wraps the
// signing layer, which wraps the base transport. Signing sits innermost
// so nothing can mutate a request after its signature is computed.
package sigclient

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/signer"
	"github.com/perimetra/sigil/sigmsg"
	"github.com/perimetra/sigil/verifier"
)

// Error codes produced by this package.
const (
	CodeNoSigner         = "no_signer"
	CodeHTTP2Unsupported = "http2_unsupported_base"
	CodeResponseRejected = "response_rejected"
)

// Interceptor wraps a RoundTripper with caller behavior: retries,
// tracing, header stamping. Interceptors see requests before they are
// signed and responses after they are verified.
type Interceptor func(next http.RoundTripper) http.RoundTripper

// Config assembles a signing client.
type Config struct {
	// Signer signs every outgoing request. Required.
	Signer *signer.Signer

	// SignOptions apply to every signing operation. Usually nil; fixing
	// Nonce here makes every request carry the same nonce.
	SignOptions *signer.Options

	// Base is the innermost transport. Nil clones the default transport,
	// giving the client its own connection pool.
	Base http.RoundTripper

	// EnableHTTP2 configures HTTP/2 on the base, which must be an
	// *http.Transport.
	EnableHTTP2 bool

	// Interceptors wrap the chain, first entry outermost.
	Interceptors []Interceptor

	// ResponseVerifier, when set, verifies a signature on every response
	// and fails the round trip when the verdict is not valid.
	ResponseVerifier *verifier.Verifier

	// ResponsePolicy names the policy responses are verified against.
	// Empty uses the verifier's default.
	ResponsePolicy string

	// Timeout is the http.Client timeout. Zero means no timeout.
	Timeout time.Duration
}

// New assembles an http.Client from the configured chain.
func New(cfg Config) (*http.Client, error) {
	rt, err := NewTransport(cfg)
	if err != nil {
		return nil, err
	}

	return &http.Client{Transport: rt, Timeout: cfg.Timeout}, nil
}

// NewTransport assembles the transport chain without wrapping it in a
// client, for callers composing their own http.Client.
func NewTransport(cfg Config) (http.RoundTripper, error) {
	if cfg.Signer == nil {
		return nil, sigerr.New(sigerr.KindConfiguration, CodeNoSigner,
			"signer must not be nil")
	}

	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}

	if cfg.EnableHTTP2 {
		t, ok := base.(*http.Transport)
		if !ok {
			return nil, sigerr.New(sigerr.KindConfiguration, CodeHTTP2Unsupported,
				"http2 requires an *http.Transport base")
		}
		if err := http2.ConfigureTransport(t); err != nil {
			return nil, sigerr.Wrap(err, sigerr.KindConfiguration, CodeHTTP2Unsupported,
				"http2 configuration failed")
		}
	}

	rt := http.RoundTripper(&signingTransport{
		next:   base,
		signer: cfg.Signer,
		opts:   cfg.SignOptions,
	})

	if cfg.ResponseVerifier != nil {
		rt = &verifyingTransport{
			next:     rt,
			verifier: cfg.ResponseVerifier,
			policy:   cfg.ResponsePolicy,
		}
	}

	for i := len(cfg.Interceptors) - 1; i >= 0; i-- {
		rt = cfg.Interceptors[i](rt)
	}

	return rt, nil
}

// signingTransport signs requests and delegates to the base. The caller's
// request is cloned first; when GetBody is available the clone gets its
// own body copy so digest computation does not consume the original.
type signingTransport struct {
	next   http.RoundTripper
	signer *signer.Signer
	opts   *signer.Options
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())

	if clone.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		clone.Body = body
	}

	if _, err := t.signer.SignRequest(clone, t.opts); err != nil {
		return nil, err
	}

	return t.next.RoundTrip(clone)
}

// verifyingTransport checks a signature on each response. The response
// message reuses the request's method and target, which is what a signing
// responder covers, with the response's headers and body.
type verifyingTransport struct {
	next     http.RoundTripper
	verifier *verifier.Verifier
	policy   string
}

func (t *verifyingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	msg, err := responseMessage(req, resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	result := t.verifier.Verify(req.Context(), msg, &verifier.Options{Policy: t.policy})
	if !result.Valid() {
		resp.Body.Close()

		rejection := sigerr.Newf(sigerr.KindValidation, CodeResponseRejected,
			"response signature verification returned %s", result.Status).
			With("status", string(result.Status))
		if result.Error != nil {
			rejection = rejection.With("cause", result.Error.Code)
		}

		return nil, rejection
	}

	return resp, nil
}

// responseMessage captures response facts for verification: the request's
// method and URL, the response's headers, and its body. The body is
// buffered and restored so the caller can still read it.
func responseMessage(req *http.Request, resp *http.Response) (*sigmsg.Message, error) {
	msg, err := sigmsg.New(req.Method, req.URL.String())
	if err != nil {
		return nil, err
	}

	for name := range resp.Header {
		msg.SetHeader(name, resp.Header.Get(name))
	}

	if resp.Body != nil {
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, sigerr.Wrap(err, sigerr.KindValidation, sigmsg.CodeUnreadableBody,
				"response body cannot be read")
		}

		resp.Body = io.NopCloser(bytes.NewReader(body))
		if len(body) > 0 {
			msg.SetBody(body)
		}
	}

	return msg, nil
}
