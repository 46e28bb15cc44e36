package verifier

import (
	"time"

	"github.com/perimetra/sigil/sigerr"
)

// Status is the overall verdict of one verification.
type Status string

const (
	// StatusValid means every recorded check passed.
	StatusValid Status = "valid"

	// StatusInvalid means at least one recorded check failed.
	StatusInvalid Status = "invalid"

	// StatusUnknown means the signature could not be checked, typically
	// because key retrieval was skipped and no key was supplied.
	StatusUnknown Status = "unknown"

	// StatusError means verification aborted before checks could run:
	// malformed wire headers, an unknown policy, or failed key resolution.
	StatusError Status = "error"
)

// Check names recorded in Result.Checks. A name is present only when its
// stage ran; conditional stages (timestamp, nonce, content digest, custom
// rules) are absent when the policy does not request them.
const (
	CheckFormat            = "format_valid"
	CheckCryptographic     = "cryptographic_valid"
	CheckTimestamp         = "timestamp_valid"
	CheckNonce             = "nonce_valid"
	CheckContentDigest     = "content_digest_valid"
	CheckComponentCoverage = "component_coverage_valid"
	CheckCustomRules       = "custom_rules_valid"
)

// Result is the complete outcome of one verification. Verify always
// returns a Result; routine mismatches are reported through Status and
// Checks, never as Go errors.
type Result struct {
	// Status is the overall verdict.
	Status Status

	// SignatureValid reports format and cryptographic validity together,
	// independent of policy checks. A stale but genuine signature has
	// SignatureValid true and Status invalid.
	SignatureValid bool

	// Checks maps each executed check name to its outcome.
	Checks map[string]bool

	// Diagnostics carries everything the verifier learned about the
	// signature, the content, and the policy fit.
	Diagnostics Diagnostics

	// Metrics records how long verification and each stage took.
	Metrics Metrics

	// Error is set only when Status is StatusError.
	Error *sigerr.Error
}

// Valid reports whether the overall verdict is StatusValid.
func (r *Result) Valid() bool {
	return r.Status == StatusValid
}

// Passed reports the outcome of a named check. The second return is false
// when the check did not run.
func (r *Result) Passed(name string) (bool, bool) {
	ok, ran := r.Checks[name]
	return ok, ran
}

// Diagnostics breaks the verification evidence into four views.
type Diagnostics struct {
	Signature SignatureFacts
	Content   ContentFacts
	Policy    PolicyCompliance
	Security  SecurityAssessment
}

// SignatureFacts restates what the signature claimed about itself. The
// fields are sender-controlled claims; Checks says whether they held up.
type SignatureFacts struct {
	Label     string
	Algorithm string
	KeyID     string
	Created   int64
	Age       time.Duration
	Nonce     string
	Covered   []string
}

// ContentFacts describes the message body and its digest header.
type ContentFacts struct {
	HasBody         bool
	BodyBytes       int
	HasDigest       bool
	DigestCovered   bool
	DigestAlgorithm string
	DigestChecked   bool
	DigestMatch     bool
}

// PolicyCompliance reports how the covered components and custom rules
// fared against the active policy.
type PolicyCompliance struct {
	PolicyName string
	Missing    []string
	Extra      []string
	Rules      []RuleOutcome
}

// RuleOutcome is the verdict of one custom rule.
type RuleOutcome struct {
	Name    string
	Passed  bool
	Message string
}

// Metrics are the verification timings: the total and one entry per
// executed stage.
type Metrics struct {
	Total time.Duration
	Steps map[string]time.Duration
}
