// Package signer produces HTTP message signatures. A Signer owns one
// private key and one component configuration; each Sign call derives the
// canonical form of a message, signs it with Ed25519, and returns the wire
// headers to attach.
//
// Signing errors indicate programmer error (bad configuration, invalid
// message facts) and are returned as typed errors; adversarial input never
// reaches a signer.
package signer

import (
	"crypto/ed25519"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/perimetra/sigil/keyring"
	"github.com/perimetra/sigil/sigbase"
	"github.com/perimetra/sigil/sigcache"
	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/sigmsg"
	"github.com/perimetra/sigil/sigwire"
)

// slowSignThreshold is the performance budget for one signing operation.
// Exceeding it logs a warning, never an error.
const slowSignThreshold = 10 * time.Millisecond

// DefaultContentType is synthesized when a message has a body, covers
// content-type, but carries no such header.
const DefaultContentType = "application/json"

// Error codes produced by this package.
const (
	CodeNoKeyProvider = "no_key_provider"
	CodeNilMessage    = "nil_message"
)

// Config configures a Signer. The zero value is not usable: Keys and
// KeyID are required.
type Config struct {
	// Keys supplies the private key. Required.
	Keys keyring.Provider

	// KeyID selects the key and is stamped into signature parameters.
	// Required.
	KeyID string

	// Label identifies the signature in wire headers. Defaults to "sig1".
	Label string

	// Components selects what signatures cover. Defaults to @method and
	// @target-uri.
	Components sigmsg.Components

	// DigestAlgorithm is used when Components cover content-digest.
	// Defaults to sha-256.
	DigestAlgorithm sigmsg.DigestAlgorithm

	// Strict fails signing when a covered header is absent instead of
	// silently narrowing coverage.
	Strict bool

	// RequiredHeaders are always enforced as present, regardless of
	// Strict.
	RequiredHeaders []string

	// Cache, when set, short-circuits repeat signings of identical
	// messages. Do not share one cache between signers with different
	// keys or component configurations: the fingerprint covers only the
	// message.
	Cache *sigcache.Cache

	// CacheTTL bounds cached signature lifetime. Zero uses the cache's
	// default.
	CacheTTL time.Duration

	// Logger receives operational logs. Nil disables logging.
	Logger *zerolog.Logger

	// Now is the clock, for tests. Nil uses time.Now.
	Now func() time.Time
}

// Options are per-call overrides. Fixing Created and Nonce makes the
// resulting headers deterministic; such calls bypass the cache.
type Options struct {
	// Created overrides the signature timestamp.
	Created time.Time

	// Nonce overrides the generated nonce and must be a UUIDv4.
	Nonce string

	// DigestAlgorithm overrides the configured digest algorithm.
	DigestAlgorithm sigmsg.DigestAlgorithm

	// Components overrides the configured component selection.
	Components *sigmsg.Components
}

// Result is the outcome of one signing operation. Headers holds every
// wire header to attach to the outbound request; the remaining fields
// break the same data out for inspection. Cache hits carry only Headers
// and the header-derived fields.
type Result struct {
	Label          string
	SignatureInput string
	Signature      string
	ContentDigest  string
	ContentType    string
	Headers        map[string]string
	Covered        []string
	Params         sigbase.Params
	Canonical      []byte
	FromCache      bool
	Elapsed        time.Duration
}

// Signer signs messages with a fixed key and component configuration. It
// is immutable after construction and safe for concurrent use.
type Signer struct {
	key        ed25519.PrivateKey
	keyID      string
	label      string
	components sigmsg.Components
	digestAlg  sigmsg.DigestAlgorithm
	buildCfg   sigbase.BuildConfig
	cache      *sigcache.Cache
	cacheTTL   time.Duration
	logger     zerolog.Logger
	now        func() time.Time
}

// New builds a Signer, resolving and validating the private key up front
// so that bad key material fails construction, not the first request.
func New(cfg Config) (*Signer, error) {
	if cfg.Keys == nil {
		return nil, sigerr.New(sigerr.KindConfiguration, CodeNoKeyProvider,
			"key provider must not be nil")
	}

	if cfg.KeyID == "" {
		return nil, sigerr.New(sigerr.KindConfiguration, sigbase.CodeMissingKeyID,
			"key id must not be empty")
	}

	raw, ok := cfg.Keys.PrivateKey(cfg.KeyID)
	if !ok {
		return nil, sigerr.Newf(sigerr.KindKeyResolution, keyring.CodeKeyNotFound,
			"no private key for key id %q", cfg.KeyID).With("key_id", cfg.KeyID)
	}

	key, err := keyring.PrivateKeyFromBytes(raw)
	if err != nil {
		return nil, err
	}

	label := cfg.Label
	if label == "" {
		label = sigwire.DefaultLabel
	}

	components := cfg.Components
	if components.Empty() {
		components = sigmsg.DefaultComponents()
	}

	digestAlg := cfg.DigestAlgorithm
	if digestAlg == "" {
		digestAlg = sigmsg.DigestSHA256
	}

	required := make([]string, 0, len(cfg.RequiredHeaders))
	for _, name := range cfg.RequiredHeaders {
		required = append(required, strings.ToLower(strings.TrimSpace(name)))
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Signer{
		key:        key,
		keyID:      cfg.KeyID,
		label:      label,
		components: components,
		digestAlg:  digestAlg,
		buildCfg:   sigbase.BuildConfig{Strict: cfg.Strict, Required: required},
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		logger:     logger,
		now:        now,
	}, nil
}

// Sign derives the canonical form of msg, signs it, and returns the wire
// headers. With nil opts the signature carries a fresh nonce and the
// current time, and identical messages may be served from the cache.
func (s *Signer) Sign(msg *sigmsg.Message, opts *Options) (*Result, error) {
	start := s.now()

	if msg == nil {
		return nil, sigerr.New(sigerr.KindValidation, CodeNilMessage,
			"message must not be nil")
	}

	cacheable := s.cache != nil && opts == nil

	var fingerprint string
	if cacheable {
		fingerprint = sigcache.Fingerprint(msg)
		if headers, ok := s.cache.Get(fingerprint); ok {
			s.logger.Debug().
				Str("key_id", s.keyID).
				Msg("signature served from cache")
			return s.cachedResult(headers, start), nil
		}
	}

	params, err := s.buildParams(opts)
	if err != nil {
		return nil, err
	}

	components := s.components
	if opts != nil && opts.Components != nil {
		components = *opts.Components
	}

	digestAlg := s.digestAlg
	if opts != nil && opts.DigestAlgorithm != "" {
		digestAlg = opts.DigestAlgorithm
	}

	var digest sigmsg.ContentDigest
	if components.CoversContentDigest() {
		digest, err = sigmsg.ComputeDigest(msg.Body(), digestAlg)
		if err != nil {
			return nil, err
		}
	}

	buildMsg, syntheticType := s.synthesizeContentType(msg, components)

	canonical, covered, err := sigbase.Build(buildMsg, components, params, digest, s.buildCfg)
	if err != nil {
		return nil, err
	}

	signature := ed25519.Sign(s.key, canonical)

	result := &Result{
		Label:          s.label,
		SignatureInput: sigwire.FormatSignatureInput(s.label, params.Serialize(covered)),
		Signature:      sigwire.FormatSignature(s.label, signature),
		ContentType:    syntheticType,
		Covered:        covered,
		Params:         params,
		Canonical:      canonical,
	}

	headers := map[string]string{
		sigwire.HeaderSignatureInput: result.SignatureInput,
		sigwire.HeaderSignature:      result.Signature,
	}
	if components.CoversContentDigest() {
		result.ContentDigest = digest.HeaderValue()
		headers[sigmsg.HeaderContentDigest] = result.ContentDigest
	}
	if syntheticType != "" {
		headers["Content-Type"] = syntheticType
	}
	result.Headers = headers

	if cacheable {
		s.cache.PutTTL(fingerprint, headers, s.cacheTTL)
	}

	result.Elapsed = s.now().Sub(start)
	s.logOutcome(result)

	return result, nil
}

// SignRequest signs r in place: the message facts are captured from the
// request, signed, and the resulting wire headers set on it. The body
// remains readable.
func (s *Signer) SignRequest(r *http.Request, opts *Options) (*Result, error) {
	msg, err := sigmsg.FromRequest(r)
	if err != nil {
		return nil, err
	}

	result, err := s.Sign(msg, opts)
	if err != nil {
		return nil, err
	}

	for name, value := range result.Headers {
		r.Header.Set(name, value)
	}

	return result, nil
}

// KeyID returns the configured key id.
func (s *Signer) KeyID() string { return s.keyID }

// Label returns the configured signature label.
func (s *Signer) Label() string { return s.label }

// buildParams assembles and validates signature parameters from the
// options and the clock.
func (s *Signer) buildParams(opts *Options) (sigbase.Params, error) {
	params, err := sigbase.NewParams(s.keyID, s.now())
	if err != nil {
		return sigbase.Params{}, err
	}

	if opts != nil {
		if !opts.Created.IsZero() {
			params.Created = opts.Created.Unix()
		}
		if opts.Nonce != "" {
			params.Nonce = opts.Nonce
		}
	}

	if err := params.Validate(); err != nil {
		return sigbase.Params{}, err
	}

	return params, nil
}

// synthesizeContentType returns the message to canonicalize and the
// synthesized content-type value, if one was needed. The input message is
// never mutated; when synthesis applies, a clone carries the header so
// the canonical form and the returned wire headers agree.
func (s *Signer) synthesizeContentType(msg *sigmsg.Message, components sigmsg.Components) (*sigmsg.Message, string) {
	if !msg.HasBody() || !components.Covers("content-type") {
		return msg, ""
	}

	if _, ok := msg.Header("content-type"); ok {
		return msg, ""
	}

	clone := msg.Clone()
	clone.SetHeader("content-type", DefaultContentType)

	return clone, DefaultContentType
}

// cachedResult rebuilds a Result from cached wire headers.
func (s *Signer) cachedResult(headers map[string]string, start time.Time) *Result {
	return &Result{
		Label:          s.label,
		SignatureInput: headers[sigwire.HeaderSignatureInput],
		Signature:      headers[sigwire.HeaderSignature],
		ContentDigest:  headers[sigmsg.HeaderContentDigest],
		ContentType:    headers["Content-Type"],
		Headers:        headers,
		FromCache:      true,
		Elapsed:        s.now().Sub(start),
	}
}

// logOutcome emits the per-operation log line and the slow-signing
// warning when the budget is exceeded.
func (s *Signer) logOutcome(result *Result) {
	if result.Elapsed > slowSignThreshold {
		s.logger.Warn().
			Str("key_id", s.keyID).
			Dur("elapsed", result.Elapsed).
			Dur("budget", slowSignThreshold).
			Msg("signing exceeded its time budget")
		return
	}

	s.logger.Debug().
		Str("key_id", s.keyID).
		Str("label", s.label).
		Strs("covered", result.Covered).
		Dur("elapsed", result.Elapsed).
		Msg("message signed")
}

// CoveredComponents returns the identifiers the signer is configured to
// cover, in canonical emission order.
func (s *Signer) CoveredComponents() []string {
	return slices.Clone(s.components.List())
}
