// Package inspect provides diagnostic tooling for signed messages: a
// header linter that explains malformed wire data, freshness insight into
// signature parameters, and a human-readable rendering of verification
// results. Nothing here makes trust decisions; the verifier does that.
package inspect

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/perimetra/sigil/sigbase"
	"github.com/perimetra/sigil/sigmsg"
	"github.com/perimetra/sigil/sigwire"
	"github.com/perimetra/sigil/verifier"
)

// Severity ranks a lint finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding codes emitted by Lint.
const (
	CodeMissingSignatureInput = "missing_signature_input"
	CodeMissingSignature      = "missing_signature"
	CodeMalformedMember       = "malformed_member"
	CodeMalformedCoverage     = "malformed_covered_list"
	CodeUnquotedComponent     = "unquoted_component"
	CodeUnknownPseudo         = "unknown_pseudo_component"
	CodeMissingParam          = "missing_param"
	CodeMalformedParam        = "malformed_param"
	CodeBadSignatureShape     = "bad_signature_shape"
	CodeWrongSignatureLength  = "wrong_signature_length"
	CodeLabelMismatch         = "label_mismatch"
	CodeMalformedDigest       = "malformed_digest"
	CodeNoDigest              = "no_content_digest"
	CodeExtraMembers          = "extra_members"
)

// Finding is one lint observation about the wire headers.
type Finding struct {
	Severity Severity
	Code     string
	Message  string
}

// requiredParams are the signature parameters the dialect demands.
var requiredParams = []string{"created", "keyid", "alg", "nonce"}

// Lint examines signature wire headers and reports everything wrong or
// noteworthy about them, in the order discovered. A clean, well-formed
// header pair yields no error findings.
func Lint(h http.Header) []Finding {
	var findings []Finding

	inputValue := h.Get(sigwire.HeaderSignatureInput)
	sigValue := h.Get(sigwire.HeaderSignature)

	if inputValue == "" {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeMissingSignatureInput,
			Message:  "Signature-Input header is absent",
		})
	}
	if sigValue == "" {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeMissingSignature,
			Message:  "Signature header is absent",
		})
	}
	if inputValue == "" && sigValue == "" {
		return findings
	}

	var label string
	if inputValue != "" {
		var memberValue string
		label, memberValue, findings = lintInputMember(inputValue, findings)
		if memberValue != "" {
			findings = lintCoverage(memberValue, findings)
			findings = lintParams(memberValue, findings)
		}
	}

	if sigValue != "" {
		findings = lintSignature(sigValue, label, findings)
	}

	if digest := h.Get(sigmsg.HeaderContentDigest); digest != "" {
		if _, err := sigmsg.ParseDigestHeader(digest); err != nil {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeMalformedDigest,
				Message:  "Content-Digest header cannot be parsed",
			})
		}
	} else {
		findings = append(findings, Finding{
			Severity: SeverityInfo,
			Code:     CodeNoDigest,
			Message:  "no Content-Digest header; body integrity is not signed",
		})
	}

	return findings
}

// lintInputMember checks the dictionary structure of Signature-Input and
// returns the first member's label and value.
func lintInputMember(headerValue string, findings []Finding) (string, string, []Finding) {
	members := sigbase.SplitQuoteAware(headerValue, ',')
	if len(members) == 0 {
		return "", "", append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeMalformedMember,
			Message:  "Signature-Input header is empty",
		})
	}

	if len(members) > 1 {
		findings = append(findings, Finding{
			Severity: SeverityInfo,
			Code:     CodeExtraMembers,
			Message:  "multiple signature members present; only the first is inspected",
		})
	}

	label, value, ok := strings.Cut(members[0], "=")
	label = strings.TrimSpace(label)
	if !ok || label == "" {
		return "", "", append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeMalformedMember,
			Message:  "Signature-Input member is not label=value",
		})
	}

	return label, strings.TrimSpace(value), findings
}

// lintCoverage checks the parenthesized covered-component list.
func lintCoverage(memberValue string, findings []Finding) []Finding {
	if !strings.HasPrefix(memberValue, "(") {
		return append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeMalformedCoverage,
			Message:  "covered component list is not parenthesized",
		})
	}

	closing := strings.Index(memberValue, ")")
	if closing < 0 {
		return append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeMalformedCoverage,
			Message:  "covered component list is not closed",
		})
	}

	for _, item := range strings.Fields(memberValue[1:closing]) {
		if !strings.HasPrefix(item, `"`) || !strings.HasSuffix(item, `"`) || len(item) < 2 {
			findings = append(findings, Finding{
				Severity: SeverityWarning,
				Code:     CodeUnquotedComponent,
				Message:  "covered component " + item + " is not quoted",
			})
			continue
		}

		id := item[1 : len(item)-1]
		if strings.HasPrefix(id, "@") && id != "@method" && id != "@target-uri" && id != "@signature-params" {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeUnknownPseudo,
				Message:  "unknown derived component " + id,
			})
		}
	}

	return findings
}

// lintParams checks that every required signature parameter is present
// and that created is an integer.
func lintParams(memberValue string, findings []Finding) []Finding {
	present := make(map[string]string)

	parts := sigbase.SplitQuoteAware(memberValue, ';')
	for _, part := range parts[1:] {
		if name, value, ok := strings.Cut(part, "="); ok {
			present[strings.TrimSpace(name)] = strings.TrimSpace(value)
		}
	}

	for _, name := range requiredParams {
		value, ok := present[name]
		if !ok {
			findings = append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeMissingParam,
				Message:  "required parameter " + name + " is absent",
			})
			continue
		}

		if name == "created" {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				findings = append(findings, Finding{
					Severity: SeverityError,
					Code:     CodeMalformedParam,
					Message:  "created parameter is not an integer",
				})
			}
		}
	}

	return findings
}

// lintSignature checks the Signature header: label agreement with
// Signature-Input and the colon-wrapped 128-hex-character payload.
func lintSignature(headerValue, label string, findings []Finding) []Finding {
	members := sigbase.SplitQuoteAware(headerValue, ',')

	var value string
	found := false
	for _, member := range members {
		memberLabel, memberValue, ok := strings.Cut(member, "=")
		if ok && (label == "" || strings.TrimSpace(memberLabel) == label) {
			value = strings.TrimSpace(memberValue)
			found = true
			break
		}
	}

	if !found {
		return append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeLabelMismatch,
			Message:  "Signature header has no entry matching the Signature-Input label",
		})
	}

	if len(value) < 2 || value[0] != ':' || value[len(value)-1] != ':' {
		return append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeBadSignatureShape,
			Message:  "signature value is not colon-wrapped",
		})
	}

	payload := value[1 : len(value)-1]
	for _, r := range payload {
		isHex := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')
		if !isHex {
			return append(findings, Finding{
				Severity: SeverityError,
				Code:     CodeBadSignatureShape,
				Message:  "signature payload is not lowercase hex",
			})
		}
	}

	if len(payload) != 128 {
		findings = append(findings, Finding{
			Severity: SeverityError,
			Code:     CodeWrongSignatureLength,
			Message:  "signature payload is " + strconv.Itoa(len(payload)) + " hex characters, want 128",
		})
	}

	return findings
}

// Score grades a covered-component list. It is the same grading the
// verifier applies under Diagnostics.Security.
func Score(covered []string) verifier.SecurityAssessment {
	return verifier.ScoreCoverage(covered)
}

// Freshness buckets assigned by InspectParams.
const (
	FreshnessFuture = "future"
	FreshnessFresh  = "fresh"
	FreshnessRecent = "recent"
	FreshnessStale  = "stale"
)

// ParamsInsight summarizes what signature parameters say about a
// signature's age and nonce without verifying anything.
type ParamsInsight struct {
	AgeSeconds     int64
	Freshness      string
	CreatedInRange bool
	NonceValid     bool
}

// InspectParams classifies the created timestamp into a freshness bucket
// and checks the nonce shape.
func InspectParams(params sigbase.Params, now time.Time) ParamsInsight {
	age := now.Unix() - params.Created

	freshness := FreshnessStale
	switch {
	case age < 0:
		freshness = FreshnessFuture
	case age <= int64((5 * time.Minute).Seconds()):
		freshness = FreshnessFresh
	case age <= int64(time.Hour.Seconds()):
		freshness = FreshnessRecent
	}

	return ParamsInsight{
		AgeSeconds:     age,
		Freshness:      freshness,
		CreatedInRange: sigbase.ValidCreated(params.Created),
		NonceValid:     sigbase.ValidNonce(params.Nonce),
	}
}
