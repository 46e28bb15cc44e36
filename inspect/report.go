package inspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/perimetra/sigil/verifier"
)

// RenderReport turns a verification result into a multi-section plain
// text report. Map-backed sections (checks, timings) render in sorted
// order so the output is stable.
func RenderReport(result *verifier.Result) string {
	if result == nil {
		return "no verification result\n"
	}

	var b strings.Builder

	b.WriteString("signature verification report\n")
	b.WriteString("=============================\n")
	fmt.Fprintf(&b, "status: %s\n", result.Status)
	fmt.Fprintf(&b, "signature valid: %t\n", result.SignatureValid)

	if result.Error != nil {
		fmt.Fprintf(&b, "error: %s\n", result.Error.Error())
	}

	if len(result.Checks) > 0 {
		b.WriteString("\nchecks:\n")
		for _, name := range sortedKeys(result.Checks) {
			fmt.Fprintf(&b, "  %s: %s\n", name, passFail(result.Checks[name]))
		}
	}

	renderSignatureFacts(&b, result.Diagnostics.Signature)
	renderContentFacts(&b, result.Diagnostics.Content)
	renderPolicyCompliance(&b, result.Diagnostics.Policy)
	renderSecurity(&b, result.Diagnostics.Security)

	b.WriteString("\ntimings:\n")
	fmt.Fprintf(&b, "  total: %s\n", result.Metrics.Total)
	for _, name := range sortedKeys(result.Metrics.Steps) {
		fmt.Fprintf(&b, "  %s: %s\n", name, result.Metrics.Steps[name])
	}

	return b.String()
}

func renderSignatureFacts(b *strings.Builder, facts verifier.SignatureFacts) {
	if facts.Label == "" && len(facts.Covered) == 0 {
		return
	}

	b.WriteString("\nsignature:\n")
	fmt.Fprintf(b, "  label: %s\n", facts.Label)
	fmt.Fprintf(b, "  key id: %s\n", facts.KeyID)
	fmt.Fprintf(b, "  algorithm: %s\n", facts.Algorithm)
	fmt.Fprintf(b, "  created: %d (age %s)\n", facts.Created, facts.Age)
	fmt.Fprintf(b, "  nonce: %s\n", facts.Nonce)
	fmt.Fprintf(b, "  covered: %s\n", strings.Join(facts.Covered, ", "))
}

func renderContentFacts(b *strings.Builder, facts verifier.ContentFacts) {
	b.WriteString("\ncontent:\n")

	if facts.HasBody {
		fmt.Fprintf(b, "  body: %d bytes\n", facts.BodyBytes)
	} else {
		b.WriteString("  body: none\n")
	}

	switch {
	case !facts.HasDigest:
		b.WriteString("  digest: none\n")
	case facts.DigestChecked:
		fmt.Fprintf(b, "  digest: %s (%s)\n", facts.DigestAlgorithm, matchMismatch(facts.DigestMatch))
	default:
		fmt.Fprintf(b, "  digest: %s (not checked)\n", facts.DigestAlgorithm)
	}
}

func renderPolicyCompliance(b *strings.Builder, compliance verifier.PolicyCompliance) {
	if compliance.PolicyName == "" {
		return
	}

	b.WriteString("\npolicy:\n")
	fmt.Fprintf(b, "  name: %s\n", compliance.PolicyName)
	fmt.Fprintf(b, "  missing components: %s\n", orDash(compliance.Missing))
	fmt.Fprintf(b, "  extra components: %s\n", orDash(compliance.Extra))

	for _, rule := range compliance.Rules {
		line := "  rule " + rule.Name + ": " + passFail(rule.Passed)
		if rule.Message != "" {
			line += " (" + rule.Message + ")"
		}
		b.WriteString(line + "\n")
	}
}

func renderSecurity(b *strings.Builder, security verifier.SecurityAssessment) {
	b.WriteString("\nsecurity:\n")
	fmt.Fprintf(b, "  score: %d/100 (%s)\n", security.Score, security.Level)

	for _, s := range security.Strengths {
		fmt.Fprintf(b, "  + %s\n", s)
	}
	for _, w := range security.Weaknesses {
		fmt.Fprintf(b, "  - %s\n", w)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func passFail(ok bool) string {
	if ok {
		return "pass"
	}
	return "fail"
}

func matchMismatch(ok bool) string {
	if ok {
		return "match"
	}
	return "mismatch"
}

func orDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
