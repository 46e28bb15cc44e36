// Package verifier checks HTTP message signatures against named policies.
//
// Verification is evidence-gathering, not gatekeeping: Verify returns a
// Result describing every check that ran and what it found, and reserves
// Go errors for situations where no verdict was possible at all (missing
// headers, unknown policy, failed key resolution). A tampered message and
// a stale timestamp both come back as Status invalid; the Checks map says
// which one it was.
package verifier

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/perimetra/sigil/keyring"
	"github.com/perimetra/sigil/policy"
	"github.com/perimetra/sigil/sigbase"
	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/sigmsg"
	"github.com/perimetra/sigil/sigwire"
)

// slowVerifyThreshold is the performance budget for one verification.
// Exceeding it logs a warning, never an error.
const slowVerifyThreshold = 50 * time.Millisecond

// clockSkewSeconds is how far in the future a created timestamp may sit
// before the timestamp check fails. Sender and receiver clocks are never
// perfectly aligned.
const clockSkewSeconds int64 = 60

// Error codes produced by this package.
const (
	CodeNilMessage = "nil_message"
	CodeInternal   = "internal"
)

// Config configures a Verifier. The zero value verifies against the
// built-in policy set with no key material, which only ever yields
// key-resolution errors; most callers set Keys or Sources.
type Config struct {
	// Policies is the policy registry. Nil uses the built-in set.
	Policies *policy.Registry

	// DefaultPolicy names the policy applied when a Verify call does not
	// pick one. Defaults to "standard" and must exist in Policies.
	DefaultPolicy string

	// Keys resolves public keys locally, ahead of Sources.
	Keys keyring.Provider

	// Sources are external key sources tried in order when the local
	// provider has no key.
	Sources []keyring.Source

	// SourceTimeout bounds each source lookup. Zero uses the keyring
	// default.
	SourceTimeout time.Duration

	// Replay, when set, enforces nonce uniqueness across verifications.
	Replay ReplayGuard

	// Logger receives operational logs. Nil disables logging.
	Logger *zerolog.Logger

	// Now is the clock, for tests. Nil uses time.Now.
	Now func() time.Time
}

// Options select per-call behavior.
type Options struct {
	// Policy names the policy to verify against, overriding the
	// verifier's default.
	Policy string

	// PublicKey supplies raw key bytes directly, bypassing key
	// resolution entirely.
	PublicKey []byte

	// KeyID overrides the key id claimed in the signature parameters
	// when resolving a key.
	KeyID string

	// SkipKeyRetrieval suppresses the external source chain. Without a
	// local or explicit key the result is StatusUnknown.
	SkipKeyRetrieval bool
}

// Verifier checks message signatures. It is immutable after construction
// and safe for concurrent use; the replay guard is its only shared
// mutable collaborator.
type Verifier struct {
	policies      *policy.Registry
	defaultPolicy string
	keys          keyring.Provider
	chain         *keyring.Chain
	replay        ReplayGuard
	logger        zerolog.Logger
	now           func() time.Time
}

// New builds a Verifier, failing fast when the default policy is not
// registered.
func New(cfg Config) (*Verifier, error) {
	policies := cfg.Policies
	if policies == nil {
		policies = policy.Default()
	}

	defaultPolicy := cfg.DefaultPolicy
	if defaultPolicy == "" {
		defaultPolicy = policy.BuiltinStandard
	}
	if !policies.Has(defaultPolicy) {
		return nil, sigerr.Newf(sigerr.KindConfiguration, policy.CodeUnknownPolicy,
			"default policy %q is not registered", defaultPolicy)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	var chain *keyring.Chain
	if len(cfg.Sources) > 0 {
		chain = keyring.NewChain(cfg.SourceTimeout, &logger, cfg.Sources...)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Verifier{
		policies:      policies,
		defaultPolicy: defaultPolicy,
		keys:          cfg.Keys,
		chain:         chain,
		replay:        cfg.Replay,
		logger:        logger,
		now:           now,
	}, nil
}

// Verify checks msg's signature and returns the full evidence. It never
// returns a Go error: aborting conditions surface as StatusError with
// Result.Error set.
func (v *Verifier) Verify(ctx context.Context, msg *sigmsg.Message, opts *Options) *Result {
	if opts == nil {
		opts = &Options{}
	}

	start := v.now()
	e := &evaluation{
		v:    v,
		ctx:  ctx,
		msg:  msg,
		opts: *opts,
		result: &Result{
			Checks:  make(map[string]bool),
			Metrics: Metrics{Steps: make(map[string]time.Duration)},
		},
		start: start,
		mark:  start,
	}

	return e.run()
}

// VerifyRequest captures msg facts from an HTTP request and verifies
// them. The request body remains readable.
func (v *Verifier) VerifyRequest(ctx context.Context, r *http.Request, opts *Options) *Result {
	msg, err := sigmsg.FromRequest(r)
	if err != nil {
		result := &Result{
			Status:  StatusError,
			Error:   typed(err),
			Checks:  make(map[string]bool),
			Metrics: Metrics{Steps: make(map[string]time.Duration)},
		}
		result.Diagnostics.Security = ScoreCoverage(nil)
		return result
	}

	return v.Verify(ctx, msg, opts)
}

// DefaultPolicy returns the name of the policy used when Options does not
// pick one.
func (v *Verifier) DefaultPolicy() string { return v.defaultPolicy }

// evaluation is the in-flight state of one Verify call.
type evaluation struct {
	v         *Verifier
	ctx       context.Context
	msg       *sigmsg.Message
	opts      Options
	result    *Result
	extracted *sigwire.Extracted
	policy    policy.Policy
	publicKey ed25519.PublicKey
	start     time.Time
	mark      time.Time
}

func (e *evaluation) run() *Result {
	if e.msg == nil {
		return e.fail(sigerr.New(sigerr.KindValidation, CodeNilMessage,
			"message must not be nil"))
	}

	extracted, err := sigwire.Extract(e.msg)
	e.lap("extraction")
	if err != nil {
		e.result.Checks[CheckFormat] = false
		return e.fail(err)
	}
	e.extracted = extracted

	pol, err := e.resolvePolicy()
	e.lap("policy_resolution")
	if err != nil {
		return e.fail(err)
	}
	e.policy = pol
	e.result.Diagnostics.Policy.PolicyName = pol.Name

	key, err := e.resolveKey()
	e.lap("key_resolution")
	if err != nil {
		return e.fail(err)
	}
	e.publicKey = key

	e.checkFormat()
	e.lap("format")

	// No key under SkipKeyRetrieval: the format verdict stands but no
	// cryptographic claim can be made either way.
	if e.publicKey == nil {
		e.result.Status = StatusUnknown
		return e.finish()
	}

	e.checkCryptographic()
	e.lap("cryptographic")

	if e.policy.CheckTimestamp {
		e.checkTimestamp()
		e.lap("timestamp")
	}

	if e.policy.CheckNonce {
		e.checkNonce()
		e.lap("nonce")
	}

	if e.policy.CheckContentDigest {
		e.checkContentDigest()
		e.lap("content_digest")
	}

	e.checkCoverage()
	e.lap("component_coverage")

	if rules := e.policy.Rules(); len(rules) > 0 {
		e.checkRules(rules)
		e.lap("custom_rules")
	}

	e.result.Status = StatusValid
	for _, passed := range e.result.Checks {
		if !passed {
			e.result.Status = StatusInvalid
			break
		}
	}

	return e.finish()
}

// lap records the elapsed time since the previous lap under a stage name.
func (e *evaluation) lap(name string) {
	now := e.v.now()
	e.result.Metrics.Steps[name] = now.Sub(e.mark)
	e.mark = now
}

// fail aborts the evaluation with StatusError.
func (e *evaluation) fail(err error) *Result {
	e.result.Status = StatusError
	e.result.Error = typed(err)
	return e.finish()
}

// finish derives the aggregate fields, fills diagnostics, and logs the
// outcome. Every exit path runs through here.
func (e *evaluation) finish() *Result {
	r := e.result
	r.SignatureValid = r.Checks[CheckFormat] && r.Checks[CheckCryptographic]

	e.populateDiagnostics()

	r.Metrics.Total = e.v.now().Sub(e.start)
	if r.Metrics.Total > slowVerifyThreshold {
		e.v.logger.Warn().
			Dur("elapsed", r.Metrics.Total).
			Dur("budget", slowVerifyThreshold).
			Msg("verification exceeded its time budget")
	}

	event := e.v.logger.Debug().
		Str("status", string(r.Status)).
		Bool("signature_valid", r.SignatureValid).
		Dur("elapsed", r.Metrics.Total)
	if e.extracted != nil {
		event = event.Str("key_id", e.extracted.Params.KeyID)
	}
	if r.Diagnostics.Policy.PolicyName != "" {
		event = event.Str("policy", r.Diagnostics.Policy.PolicyName)
	}
	event.Msg("verification finished")

	return r
}

func (e *evaluation) resolvePolicy() (policy.Policy, error) {
	name := e.opts.Policy
	if name == "" {
		name = e.v.defaultPolicy
	}

	return e.v.policies.Get(name)
}

// resolveKey finds the public key: explicit bytes win, then the local
// provider, then the external chain. Under SkipKeyRetrieval the chain is
// not consulted and a nil key is an acceptable outcome.
func (e *evaluation) resolveKey() (ed25519.PublicKey, error) {
	if len(e.opts.PublicKey) > 0 {
		return keyring.PublicKeyFromBytes(e.opts.PublicKey)
	}

	keyID := e.extracted.Params.KeyID
	if e.opts.KeyID != "" {
		keyID = e.opts.KeyID
	}

	if e.v.keys != nil {
		if raw, ok := e.v.keys.PublicKey(keyID); ok {
			return keyring.PublicKeyFromBytes(raw)
		}
	}

	if e.opts.SkipKeyRetrieval {
		return nil, nil
	}

	if e.v.chain != nil {
		raw, err := e.v.chain.Resolve(e.ctx, keyID)
		if err != nil {
			return nil, err
		}
		return keyring.PublicKeyFromBytes(raw)
	}

	return nil, sigerr.Newf(sigerr.KindKeyResolution, keyring.CodeKeyNotFound,
		"no public key available for key id %q", keyID).With("key_id", keyID)
}

// checkFormat validates the structural claims: at least one covered
// component, an allowed algorithm, and a full-length signature.
func (e *evaluation) checkFormat() {
	ok := len(e.extracted.Covered) > 0 &&
		e.policy.AllowsAlgorithm(e.extracted.Params.Alg) &&
		len(e.extracted.Signature) == ed25519.SignatureSize

	e.result.Checks[CheckFormat] = ok
}

// checkCryptographic reconstructs the canonical bytes from the claimed
// covered list and verifies the signature over them. Any reconstruction
// failure is a false verdict, never a crash.
func (e *evaluation) checkCryptographic() {
	ok := false
	if len(e.publicKey) == ed25519.PublicKeySize {
		if canonical, err := e.extracted.Reconstruct(e.msg); err == nil {
			ok = ed25519.Verify(e.publicKey, canonical, e.extracted.Signature)
		}
	}

	e.result.Checks[CheckCryptographic] = ok
}

// checkTimestamp validates the created claim: inside the accepted
// calendar range, not further in the future than clock skew explains,
// and within the policy's maximum age when one is set.
func (e *evaluation) checkTimestamp() {
	created := e.extracted.Params.Created
	age := e.extracted.Age(e.v.now().Unix())

	ok := sigbase.ValidCreated(created) && age >= -clockSkewSeconds
	if age < -clockSkewSeconds {
		e.v.logger.Debug().
			Int64("age_seconds", age).
			Int64("created", created).
			Msg("signature from the future")
	}

	if ok && e.policy.MaxTimestampAge.Duration > 0 {
		ok = age <= int64(e.policy.MaxTimestampAge.Duration/time.Second)
	}

	e.result.Checks[CheckTimestamp] = ok
}

// checkNonce validates the nonce shape and, when a replay guard is
// configured, its uniqueness.
func (e *evaluation) checkNonce() {
	nonce := e.extracted.Params.Nonce

	ok := sigbase.ValidNonce(nonce)
	if ok && e.v.replay != nil {
		ok = e.v.replay.Observe(nonce)
	}

	e.result.Checks[CheckNonce] = ok
}

// checkContentDigest recomputes the digest over the actual body and
// compares it to the carried header. A message without a digest header
// fails only when the policy requires content-digest coverage.
func (e *evaluation) checkContentDigest() {
	if !e.extracted.HasDigest() {
		e.result.Checks[CheckContentDigest] = !e.policy.Requires("content-digest")
		return
	}

	match := e.extracted.Digest.Matches(e.msg.Body())
	e.result.Diagnostics.Content.DigestChecked = true
	e.result.Diagnostics.Content.DigestMatch = match
	e.result.Checks[CheckContentDigest] = match
}

// checkCoverage compares the claimed covered list against the policy's
// required components, and against its extras rule when set.
func (e *evaluation) checkCoverage() {
	missing := e.policy.MissingComponents(e.extracted.Covered)

	var extra []string
	if e.policy.ForbidExtraComponents {
		extra = e.policy.ExtraComponents(e.extracted.Covered)
	}

	e.result.Diagnostics.Policy.Missing = missing
	e.result.Diagnostics.Policy.Extra = extra
	e.result.Checks[CheckComponentCoverage] = len(missing) == 0 && len(extra) == 0
}

// checkRules runs every policy rule. A panicking rule is converted into
// a failed outcome carrying the recovered value.
func (e *evaluation) checkRules(rules []policy.Rule) {
	rc := &policy.RuleContext{
		Message:   e.msg,
		Extracted: e.extracted,
		Policy:    e.policy,
		PublicKey: []byte(e.publicKey),
	}

	all := true
	for _, rule := range rules {
		outcome := runRule(e.ctx, rule, rc)
		if !outcome.Passed {
			all = false
		}
		e.result.Diagnostics.Policy.Rules = append(e.result.Diagnostics.Policy.Rules, outcome)
	}

	e.result.Checks[CheckCustomRules] = all
}

func runRule(ctx context.Context, rule policy.Rule, rc *policy.RuleContext) (outcome RuleOutcome) {
	outcome.Name = rule.Name()

	defer func() {
		if rec := recover(); rec != nil {
			outcome.Passed = false
			outcome.Message = fmt.Sprintf("rule panicked: %v", rec)
		}
	}()

	verdict := rule.Check(ctx, rc)
	outcome.Passed = verdict.Passed
	outcome.Message = verdict.Message

	return outcome
}

// populateDiagnostics restates the extracted claims and message facts.
// Runs on every exit path, including aborts, with whatever is known.
func (e *evaluation) populateDiagnostics() {
	d := &e.result.Diagnostics

	var covered []string
	if e.extracted != nil {
		covered = e.extracted.Covered
		params := e.extracted.Params

		d.Signature = SignatureFacts{
			Label:     e.extracted.Label,
			Algorithm: params.Alg,
			KeyID:     params.KeyID,
			Created:   params.Created,
			Age:       time.Duration(e.extracted.Age(e.v.now().Unix())) * time.Second,
			Nonce:     params.Nonce,
			Covered:   slices.Clone(covered),
		}

		d.Content.HasDigest = e.extracted.HasDigest()
		d.Content.DigestCovered = slices.Contains(covered, "content-digest")
		if d.Content.HasDigest {
			d.Content.DigestAlgorithm = string(e.extracted.Digest.Algorithm)
		}
	}

	if e.msg != nil {
		d.Content.HasBody = e.msg.HasBody()
		d.Content.BodyBytes = len(e.msg.Body())
	}

	d.Security = ScoreCoverage(covered)
}

// typed coerces any error into the package error type.
func typed(err error) *sigerr.Error {
	var se *sigerr.Error
	if errors.As(err, &se) {
		return se
	}

	return sigerr.Wrap(err, sigerr.KindValidation, CodeInternal, "verification failed")
}
