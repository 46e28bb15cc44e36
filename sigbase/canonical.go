package sigbase

import (
	"net/url"
	"slices"
	"strings"

	"github.com/perimetra/sigil/sigerr"
	"github.com/perimetra/sigil/sigmsg"
)

// BuildConfig controls how the canonical form treats covered headers that
// the message does not carry.
type BuildConfig struct {
	// Strict fails the build when any covered header is absent from the
	// message. When false, absent headers are silently left out of both
	// the component lines and the covered list.
	Strict bool

	// Required lists header names that must be present regardless of
	// Strict. Names are matched case-insensitively.
	Required []string
}

// Build produces the canonical message for a signing operation.
//
// Lines are emitted in fixed order: @method, @target-uri, covered headers
// in configured order, content-digest, and always last @signature-params.
// Each line is "<component>": <value> and lines are joined with a single
// \n with no trailing newline. The returned covered list names exactly
// the components that produced lines, in emission order.
func Build(msg *sigmsg.Message, c sigmsg.Components, params Params, digest sigmsg.ContentDigest, cfg BuildConfig) ([]byte, []string, error) {
	if c.Empty() {
		return nil, nil, sigerr.New(sigerr.KindConfiguration, CodeEmptyComponents,
			"at least one component must be covered")
	}

	if err := requireHeaders(msg, c, cfg); err != nil {
		return nil, nil, err
	}

	var lines []string
	var covered []string

	if c.CoversMethod() {
		lines = append(lines, componentLine(sigmsg.ComponentMethod, msg.Method()))
		covered = append(covered, sigmsg.ComponentMethod)
	}

	if c.CoversTargetURI() {
		target, err := TargetURI(msg.URL())
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, componentLine(sigmsg.ComponentTargetURI, target))
		covered = append(covered, sigmsg.ComponentTargetURI)
	}

	for _, name := range c.Headers() {
		value, ok := msg.Header(name)
		if !ok {
			if cfg.Strict {
				return nil, nil, missingHeader(name)
			}
			continue
		}
		lines = append(lines, componentLine(name, escapeValue(value)))
		covered = append(covered, name)
	}

	if c.CoversContentDigest() {
		value, err := digestValue(digest)
		if err != nil {
			return nil, nil, err
		}
		lines = append(lines, componentLine(sigmsg.ComponentContentDigest, value))
		covered = append(covered, sigmsg.ComponentContentDigest)
	}

	return assemble(lines, params.Serialize(covered)), covered, nil
}

// BuildFromList produces the canonical message for verification, driven
// entirely by the covered-component list taken from the wire. Lines are
// emitted per list entry in list order; covered headers absent from the
// message are skipped, which makes a stripped header surface as a
// cryptographic mismatch rather than a parse failure. The
// @signature-params line renders the claimed list verbatim, since that is
// what the signer serialized.
func BuildFromList(msg *sigmsg.Message, covered []string, params Params, digest sigmsg.ContentDigest) ([]byte, error) {
	if len(covered) == 0 {
		return nil, sigerr.New(sigerr.KindFormat, CodeEmptyComponents,
			"covered component list is empty")
	}

	var lines []string

	for _, id := range covered {
		switch id {
		case sigmsg.ComponentMethod:
			lines = append(lines, componentLine(id, msg.Method()))

		case sigmsg.ComponentTargetURI:
			target, err := TargetURI(msg.URL())
			if err != nil {
				return nil, err
			}
			lines = append(lines, componentLine(id, target))

		case sigmsg.ComponentContentDigest:
			value, err := digestValue(digest)
			if err != nil {
				return nil, err
			}
			lines = append(lines, componentLine(id, value))

		default:
			if strings.HasPrefix(id, "@") {
				return nil, sigerr.Newf(sigerr.KindFormat, CodeUnknownComponent,
					"unknown derived component %q", id)
			}
			value, ok := msg.Header(id)
			if !ok {
				continue
			}
			lines = append(lines, componentLine(id, escapeValue(value)))
		}
	}

	return assemble(lines, params.Serialize(covered)), nil
}

// TargetURI derives the @target-uri component value from an absolute URL:
// the path (defaulting to /) plus the query when one is present. The
// scheme must be http or https and a host must be present.
func TargetURI(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", sigerr.Wrap(err, sigerr.KindValidation, CodeInvalidURL,
			"target URL cannot be parsed").With("url", rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", sigerr.Newf(sigerr.KindValidation, CodeInvalidURL,
			"target URL scheme %q is not http or https", u.Scheme).With("url", rawURL)
	}

	if u.Host == "" {
		return "", sigerr.New(sigerr.KindValidation, CodeInvalidURL,
			"target URL has no host").With("url", rawURL)
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	if u.RawQuery != "" {
		return path + "?" + u.RawQuery, nil
	}

	return path, nil
}

// requireHeaders enforces Strict and Required against the message before
// any line is emitted.
func requireHeaders(msg *sigmsg.Message, c sigmsg.Components, cfg BuildConfig) error {
	for _, name := range cfg.Required {
		if _, ok := msg.Header(name); !ok {
			return missingHeader(name)
		}
	}

	if !cfg.Strict {
		return nil
	}

	for _, name := range c.Headers() {
		if _, ok := msg.Header(name); !ok {
			return missingHeader(name)
		}
	}

	return nil
}

func missingHeader(name string) error {
	return sigerr.Newf(sigerr.KindValidation, CodeMissingHeader,
		"covered header %q is absent from the message", strings.ToLower(name)).
		With("header", strings.ToLower(name))
}

// digestValue renders the content-digest component value. When no digest
// was supplied, one is computed over an empty body so bodiless messages
// still canonicalize.
func digestValue(digest sigmsg.ContentDigest) (string, error) {
	if digest.Zero() {
		d, err := sigmsg.ComputeDigest(nil, sigmsg.DigestSHA256)
		if err != nil {
			return "", err
		}
		return d.HeaderValue(), nil
	}
	return digest.HeaderValue(), nil
}

// componentLine renders one canonical line, "<component>": <value>.
func componentLine(id, value string) string {
	return `"` + id + `": ` + value
}

// escapeValue escapes double quotes inside header values so a value
// cannot forge line boundaries in the canonical form.
func escapeValue(v string) string {
	if !strings.Contains(v, `"`) {
		return v
	}
	return strings.ReplaceAll(v, `"`, `\"`)
}

// assemble joins component lines and the @signature-params line with \n
// and no trailing newline.
func assemble(lines []string, serializedParams string) []byte {
	all := slices.Clone(lines)
	all = append(all, componentLine("@signature-params", serializedParams))
	return []byte(strings.Join(all, "\n"))
}
