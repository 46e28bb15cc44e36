// Package sigwire maps between wire headers and signature data: formatting
// Signature and Signature-Input values on the way out, and extracting and
// reconstructing them on the way in.
//
// Wire forms are exact:
//
//	Signature-Input: sig1=("@method" "@target-uri");created=1700000000;keyid="key-1";alg="ed25519";nonce="<uuid>"
//	Signature: sig1=:<128 lowercase hex chars>:
//
// Nothing extracted from the wire is trusted until the verifier has checked
// it against a reconstructed canonical message.
package sigwire

import (
	"crypto/ed25519"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/perimetra/sigil/sigbase"
	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/sigmsg"
)

// Wire header names.
const (
	HeaderSignature      = "Signature"
	HeaderSignatureInput = "Signature-Input"
)

// DefaultLabel is the signature label used when a signer does not
// configure one.
const DefaultLabel = "sig1"

// Error codes produced by this package.
const (
	CodeMissingSignatureInput   = "missing_signature_input"
	CodeMissingSignature        = "missing_signature"
	CodeMalformedSignatureInput = "malformed_signature_input"
	CodeMalformedSignature      = "malformed_signature"
	CodeInvalidSignatureLength  = "invalid_signature_length"
	CodeLabelMismatch           = "label_mismatch"
)

// Extracted is the signature data recovered from wire headers. It is a
// claim, not a fact: every field comes from the sender.
type Extracted struct {
	Label     string
	Signature []byte
	Covered   []string
	Params    sigbase.Params
	Digest    sigmsg.ContentDigest
}

// HasDigest reports whether the message carried a Content-Digest header.
func (e *Extracted) HasDigest() bool {
	return !e.Digest.Zero()
}

// Age returns the elapsed seconds between the claimed created timestamp
// and now. Negative values mean the claim is from the future.
func (e *Extracted) Age(nowUnix int64) int64 {
	return nowUnix - e.Params.Created
}

// FormatSignature renders a Signature header value for raw signature bytes.
func FormatSignature(label string, signature []byte) string {
	return label + "=:" + hex.EncodeToString(signature) + ":"
}

// FormatSignatureInput renders a Signature-Input header value from
// already-serialized parameters.
func FormatSignatureInput(label, serializedParams string) string {
	return label + "=" + serializedParams
}

// Extract recovers signature data from a message's wire headers. It fails
// with format errors when either header is missing or unparseable, when
// the labels of the two headers do not agree, or when any of the required
// parameters is absent.
func Extract(msg *sigmsg.Message) (*Extracted, error) {
	inputValue, hasInput := msg.Header(HeaderSignatureInput)
	sigValue, hasSig := msg.Header(HeaderSignature)
	digestValue, hasDigest := msg.Header(sigmsg.HeaderContentDigest)

	return extract(inputValue, hasInput, sigValue, hasSig, digestValue, hasDigest)
}

// ExtractHeader recovers signature data from raw HTTP headers, for callers
// holding an http.Header rather than a Message.
func ExtractHeader(h http.Header) (*Extracted, error) {
	inputValue := h.Get(HeaderSignatureInput)
	sigValue := h.Get(HeaderSignature)
	digestValue := h.Get(sigmsg.HeaderContentDigest)

	return extract(inputValue, inputValue != "", sigValue, sigValue != "", digestValue, digestValue != "")
}

func extract(inputValue string, hasInput bool, sigValue string, hasSig bool, digestValue string, hasDigest bool) (*Extracted, error) {
	if !hasInput {
		return nil, sigerr.New(sigerr.KindFormat, CodeMissingSignatureInput,
			"Signature-Input header is absent")
	}

	if !hasSig {
		return nil, sigerr.New(sigerr.KindFormat, CodeMissingSignature,
			"Signature header is absent")
	}

	label, serialized, err := firstMember(inputValue)
	if err != nil {
		return nil, err
	}

	covered, params, err := sigbase.ParseParams(serialized)
	if err != nil {
		return nil, err
	}

	signature, err := signatureForLabel(sigValue, label)
	if err != nil {
		return nil, err
	}

	out := &Extracted{
		Label:     label,
		Signature: signature,
		Covered:   covered,
		Params:    params,
	}

	if hasDigest {
		digest, err := sigmsg.ParseDigestHeader(digestValue)
		if err != nil {
			return nil, err
		}
		out.Digest = digest
	}

	return out, nil
}

// Reconstruct re-derives the canonical bytes that must have been signed,
// using only the covered list, parameters, and digest taken from the wire.
func (e *Extracted) Reconstruct(msg *sigmsg.Message) ([]byte, error) {
	return sigbase.BuildFromList(msg, e.Covered, e.Params, e.Digest)
}

// firstMember parses the first "label=value" member of a dictionary-shaped
// header value and returns its label and value.
func firstMember(headerValue string) (string, string, error) {
	members := sigbase.SplitQuoteAware(headerValue, ',')
	if len(members) == 0 {
		return "", "", sigerr.New(sigerr.KindFormat, CodeMalformedSignatureInput,
			"Signature-Input header is empty")
	}

	label, value, ok := strings.Cut(members[0], "=")
	label = strings.TrimSpace(label)

	if !ok || label == "" {
		return "", "", sigerr.New(sigerr.KindFormat, CodeMalformedSignatureInput,
			"Signature-Input member is not label=value")
	}

	return label, strings.TrimSpace(value), nil
}

// signatureForLabel finds the member of a Signature header matching label
// and decodes its colon-wrapped hex payload.
func signatureForLabel(headerValue, label string) ([]byte, error) {
	for _, member := range sigbase.SplitQuoteAware(headerValue, ',') {
		memberLabel, value, ok := strings.Cut(member, "=")
		if !ok || strings.TrimSpace(memberLabel) != label {
			continue
		}

		return decodeSignature(strings.TrimSpace(value))
	}

	return nil, sigerr.Newf(sigerr.KindFormat, CodeLabelMismatch,
		"Signature header has no entry for label %q", label).With("label", label)
}

// decodeSignature strips the colon wrapping and decodes the hex payload,
// enforcing the Ed25519 signature size.
func decodeSignature(value string) ([]byte, error) {
	if len(value) < 2 || value[0] != ':' || value[len(value)-1] != ':' {
		return nil, sigerr.New(sigerr.KindFormat, CodeMalformedSignature,
			"signature value is not colon-wrapped")
	}

	raw, err := hex.DecodeString(value[1 : len(value)-1])
	if err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindFormat, CodeMalformedSignature,
			"signature value is not valid hex")
	}

	if len(raw) != ed25519.SignatureSize {
		return nil, sigerr.Newf(sigerr.KindFormat, CodeInvalidSignatureLength,
			"signature is %d bytes, want %d", len(raw), ed25519.SignatureSize).
			With("length", len(raw))
	}

	return raw, nil
}
