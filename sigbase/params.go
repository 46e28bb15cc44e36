// Package sigbase produces and parses the canonical signature base: the
// exact byte sequence that is signed and verified, plus the signature
// parameters that ride on the wire in Signature-Input.
//
// The dialect is deliberately rigid. Parameters always serialize in the
// order created, keyid, alg, nonce with no whitespace, and the canonical
// form is byte-exact: two messages with the same covered facts always
// produce identical bytes.
package sigbase

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perimetra/sigil/sigerr"
)

// AlgorithmEd25519 is the only signature algorithm the module produces.
const AlgorithmEd25519 = "ed25519"

// Error codes produced by this package.
const (
	CodeInvalidURL           = "invalid_url"
	CodeMissingHeader        = "missing_header"
	CodeEmptyComponents      = "empty_components"
	CodeUnknownComponent     = "unknown_component"
	CodeTimestampOutOfRange  = "timestamp_out_of_range"
	CodeMissingKeyID         = "missing_keyid"
	CodeUnsupportedAlgorithm = "unsupported_algorithm"
	CodeInvalidNonce         = "invalid_nonce"
	CodeMalformedParams      = "malformed_params"
	CodeNonceGeneration      = "nonce_generation"
)

// Accepted bounds for the created parameter: calendar years 2000
// through 2100. Values outside betray clock bugs or unit confusion
// (milliseconds instead of seconds).
var (
	createdMin = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	createdMax = time.Date(2100, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// Params are the signature parameters appearing in the @signature-params
// component and the Signature-Input header.
type Params struct {
	Created int64
	KeyID   string
	Alg     string
	Nonce   string
}

// NewParams returns fresh parameters for one signing operation: the
// current epoch second, the given key id, ed25519, and a new UUIDv4 nonce.
func NewParams(keyID string, now time.Time) (Params, error) {
	nonce, err := uuid.NewRandom()
	if err != nil {
		return Params{}, sigerr.Wrap(err, sigerr.KindCryptographic, CodeNonceGeneration,
			"nonce generation failed")
	}

	return Params{
		Created: now.Unix(),
		KeyID:   keyID,
		Alg:     AlgorithmEd25519,
		Nonce:   nonce.String(),
	}, nil
}

// Validate checks every parameter against the dialect rules: created
// within the accepted range, a key id, the ed25519 algorithm, and a
// UUIDv4 nonce.
func (p Params) Validate() error {
	if !ValidCreated(p.Created) {
		return sigerr.New(sigerr.KindValidation, CodeTimestampOutOfRange,
			"created timestamp outside accepted range").
			With("created", p.Created).
			With("min", createdMin).
			With("max", createdMax)
	}

	if p.KeyID == "" {
		return sigerr.New(sigerr.KindValidation, CodeMissingKeyID, "key id must not be empty")
	}

	if p.Alg != AlgorithmEd25519 {
		return sigerr.Newf(sigerr.KindValidation, CodeUnsupportedAlgorithm,
			"algorithm %q is not supported", p.Alg)
	}

	if !ValidNonce(p.Nonce) {
		return sigerr.Newf(sigerr.KindValidation, CodeInvalidNonce,
			"nonce %q is not a UUIDv4", p.Nonce)
	}

	return nil
}

// ValidCreated reports whether a created timestamp falls inside the
// accepted range.
func ValidCreated(created int64) bool {
	return created >= createdMin && created <= createdMax
}

// ValidNonce reports whether s is a UUIDv4.
func ValidNonce(s string) bool {
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// Serialize renders the parameters with the given covered-component list:
//
//	("@method" "@target-uri");created=<n>;keyid="<id>";alg="<alg>";nonce="<n>"
//
// The component order is preserved exactly as given.
func (p Params) Serialize(covered []string) string {
	var b strings.Builder

	b.WriteByte('(')
	for i, id := range covered {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(quote(id))
	}
	b.WriteByte(')')

	b.WriteString(";created=")
	b.WriteString(strconv.FormatInt(p.Created, 10))
	b.WriteString(";keyid=")
	b.WriteString(quote(p.KeyID))
	b.WriteString(";alg=")
	b.WriteString(quote(p.Alg))
	b.WriteString(";nonce=")
	b.WriteString(quote(p.Nonce))

	return b.String()
}

// ParseParams parses a serialized parameter string back into the covered
// list and Params. Unknown parameters are ignored; the four dialect
// parameters must all be present.
func ParseParams(raw string) ([]string, Params, error) {
	var params Params

	openParen := strings.IndexByte(raw, '(')
	closeParen := strings.IndexByte(raw, ')')

	if openParen != 0 || closeParen < 0 || closeParen <= openParen {
		return nil, params, sigerr.New(sigerr.KindFormat, CodeMalformedParams,
			"signature params must start with a component list")
	}

	covered := parseInnerList(raw[openParen+1 : closeParen])

	var sawCreated bool
	for _, part := range splitParams(raw[closeParen+1:]) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}

		switch key {
		case "created":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, params, sigerr.Wrap(err, sigerr.KindFormat, CodeMalformedParams,
					"created is not an integer timestamp")
			}
			params.Created = ts
			sawCreated = true

		case "keyid":
			params.KeyID = unquote(value)

		case "alg":
			params.Alg = unquote(value)

		case "nonce":
			params.Nonce = unquote(value)
		}
	}

	switch {
	case !sawCreated:
		return nil, params, missingParam("created")
	case params.KeyID == "":
		return nil, params, missingParam("keyid")
	case params.Alg == "":
		return nil, params, missingParam("alg")
	case params.Nonce == "":
		return nil, params, missingParam("nonce")
	}

	return covered, params, nil
}

func missingParam(name string) error {
	return sigerr.Newf(sigerr.KindFormat, CodeMalformedParams,
		"required parameter %q is absent", name).With("parameter", name)
}

// parseInnerList parses a space-separated list of quoted strings inside
// parentheses.
func parseInnerList(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	var items []string
	for len(s) > 0 {
		s = strings.TrimLeft(s, " ")
		if len(s) == 0 {
			break
		}

		if s[0] == '"' {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				// Malformed, take the rest.
				items = append(items, s[1:])
				break
			}

			items = append(items, s[1:end+1])
			s = s[end+2:]
		} else {
			end := strings.IndexByte(s, ' ')
			if end < 0 {
				items = append(items, s)
				break
			}

			items = append(items, s[:end])
			s = s[end+1:]
		}
	}

	return items
}

// SplitQuoteAware splits s on delim while respecting "..." quoted regions.
// Backslash-escaped quotes (\") inside quoted strings are handled. Each
// resulting part is trimmed of whitespace and empty parts are skipped.
func SplitQuoteAware(s string, delim byte) []string {
	var result []string
	var part strings.Builder
	inQuote := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if inQuote {
			if ch == '\\' && i+1 < len(s) {
				part.WriteByte(ch)
				i++
				part.WriteByte(s[i])
				continue
			}

			if ch == '"' {
				inQuote = false
			}

			part.WriteByte(ch)
			continue
		}

		if ch == '"' {
			inQuote = true
			part.WriteByte(ch)
			continue
		}

		if ch == delim {
			p := strings.TrimSpace(part.String())
			if p != "" {
				result = append(result, p)
			}

			part.Reset()
			continue
		}

		part.WriteByte(ch)
	}

	if p := strings.TrimSpace(part.String()); p != "" {
		result = append(result, p)
	}

	return result
}

// splitParams splits ";key=value" parameter pairs.
func splitParams(s string) []string {
	s = strings.TrimLeft(s, " ;")
	if s == "" {
		return nil
	}

	return SplitQuoteAware(s, ';')
}

// quote produces an RFC 8941 quoted-string. Only backslash and
// double-quote are escaped (Section 3.3.3); no other escape sequences
// are permitted.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' || ch == '"' {
			b.WriteByte('\\')
		}

		b.WriteByte(ch)
	}

	b.WriteByte('"')

	return b.String()
}

// unquote removes surrounding double quotes and unescapes RFC 8941
// escape sequences (\\ → \ and \" → ").
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])

			continue
		}

		b.WriteByte(s[i])
	}

	return b.String()
}
