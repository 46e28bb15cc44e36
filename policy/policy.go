// Package policy defines verification policies: named, declarative bundles
// that decide which checks a verifier runs and what a signature must cover.
// Policies load from YAML documents; four built-ins (strict, standard,
// lenient, legacy) ship with the package and can be extended or replaced by
// caller-supplied registries.
package policy

import (
	"context"
	"slices"
	"strings"

	"github.com/perimetra/sigil/sigbase"
	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/sigmsg"
	"github.com/perimetra/sigil/sigwire"
)

// Built-in policy names.
const (
	BuiltinStrict   = "strict"
	BuiltinStandard = "standard"
	BuiltinLenient  = "lenient"
	BuiltinLegacy   = "legacy"
)

// Error codes produced by this package.
const (
	CodeUnknownPolicy     = "unknown_policy"
	CodeInvalidPolicy     = "invalid_policy"
	CodeDuplicatePolicy   = "duplicate_policy"
	CodeMalformedDocument = "malformed_policy_document"
)

// Policy is one named verification profile. The YAML fields mirror the
// policy document format; rules are attached at runtime via WithRules and
// never serialize.
type Policy struct {
	Name                  string   `yaml:"name"`
	CheckTimestamp        bool     `yaml:"check_timestamp"`
	CheckNonce            bool     `yaml:"check_nonce"`
	CheckContentDigest    bool     `yaml:"check_content_digest"`
	MaxTimestampAge       Duration `yaml:"max_timestamp_age"`
	RequiredComponents    []string `yaml:"required_components"`
	AllowedAlgorithms     []string `yaml:"allowed_algorithms"`
	ForbidExtraComponents bool     `yaml:"forbid_extra_components"`

	rules []Rule
}

// Validate reports whether the policy is usable.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return sigerr.New(sigerr.KindConfiguration, CodeInvalidPolicy,
			"policy name must not be empty")
	}

	if p.MaxTimestampAge.Duration < 0 {
		return sigerr.Newf(sigerr.KindConfiguration, CodeInvalidPolicy,
			"policy %q has a negative max_timestamp_age", p.Name)
	}

	return nil
}

// normalize lowercases component names and fills the algorithm allow-list
// default. Called by the registry on every policy it takes in.
func (p Policy) normalize() Policy {
	out := p.clone()

	for i, c := range out.RequiredComponents {
		out.RequiredComponents[i] = strings.ToLower(strings.TrimSpace(c))
	}

	if len(out.AllowedAlgorithms) == 0 {
		out.AllowedAlgorithms = []string{sigbase.AlgorithmEd25519}
	}
	for i, a := range out.AllowedAlgorithms {
		out.AllowedAlgorithms[i] = strings.ToLower(strings.TrimSpace(a))
	}

	return out
}

// clone deep-copies the policy so registry lookups cannot alias caller
// state.
func (p Policy) clone() Policy {
	out := p
	out.RequiredComponents = slices.Clone(p.RequiredComponents)
	out.AllowedAlgorithms = slices.Clone(p.AllowedAlgorithms)
	out.rules = slices.Clone(p.rules)
	return out
}

// AllowsAlgorithm reports whether alg passes the policy's allow-list.
func (p Policy) AllowsAlgorithm(alg string) bool {
	return slices.Contains(p.AllowedAlgorithms, strings.ToLower(alg))
}

// Requires reports whether the policy's required component list names id.
func (p Policy) Requires(id string) bool {
	return slices.Contains(p.RequiredComponents, strings.ToLower(strings.TrimSpace(id)))
}

// MissingComponents returns the policy-required components absent from the
// covered list, in policy order.
func (p Policy) MissingComponents(covered []string) []string {
	var missing []string
	for _, want := range p.RequiredComponents {
		if !slices.Contains(covered, want) {
			missing = append(missing, want)
		}
	}
	return missing
}

// ExtraComponents returns covered components outside the required list, in
// covered order. Only meaningful when ForbidExtraComponents is set.
func (p Policy) ExtraComponents(covered []string) []string {
	var extra []string
	for _, got := range covered {
		if !slices.Contains(p.RequiredComponents, got) {
			extra = append(extra, got)
		}
	}
	return extra
}

// WithRules returns a copy of the policy with the given rules appended.
func (p Policy) WithRules(rules ...Rule) Policy {
	out := p.clone()
	out.rules = append(out.rules, rules...)
	return out
}

// Rules returns the attached custom rules.
func (p Policy) Rules() []Rule {
	return slices.Clone(p.rules)
}

// RuleContext is what a custom rule gets to look at: the message, the
// untrusted extracted signature data, the active policy, and the resolved
// public key (nil when key retrieval was skipped).
type RuleContext struct {
	Message   *sigmsg.Message
	Extracted *sigwire.Extracted
	Policy    Policy
	PublicKey []byte
}

// RuleResult is a custom rule verdict.
type RuleResult struct {
	Passed  bool
	Message string
}

// Rule is a caller-supplied predicate run as the verifier's last stage.
// Implementations must be safe for concurrent use; a panicking rule is
// converted into a failed result by the verifier, never propagated.
type Rule interface {
	Name() string
	Check(ctx context.Context, rc *RuleContext) RuleResult
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	RuleName string
	Fn       func(ctx context.Context, rc *RuleContext) RuleResult
}

// NewRule wraps fn as a named Rule.
func NewRule(name string, fn func(ctx context.Context, rc *RuleContext) RuleResult) RuleFunc {
	return RuleFunc{RuleName: name, Fn: fn}
}

// Name implements Rule.
func (r RuleFunc) Name() string { return r.RuleName }

// Check implements Rule.
func (r RuleFunc) Check(ctx context.Context, rc *RuleContext) RuleResult {
	return r.Fn(ctx, rc)
}
