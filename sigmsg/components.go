package sigmsg

import (
	"slices"
	"strings"

	"github.com/perimetra/sigil/sigerr"
)

// Component identifiers understood by the canonical form.
const (
	ComponentMethod        = "@method"
	ComponentTargetURI     = "@target-uri"
	ComponentContentDigest = "content-digest"
)

// Components selects which message facts a signature covers: the method,
// the target URI, an ordered list of header names, and the content digest.
// The zero value covers nothing; use DefaultComponents or NewComponents.
type Components struct {
	method        bool
	targetURI     bool
	contentDigest bool
	headers       []string
}

// DefaultComponents covers @method and @target-uri only.
func DefaultComponents() Components {
	return Components{method: true, targetURI: true}
}

// NewComponents builds a selection from component identifiers: "@method",
// "@target-uri", "content-digest", or header names. Header names are
// lowercased and deduplicated, keeping their first occurrence order.
// Unknown "@"-prefixed identifiers are rejected.
func NewComponents(identifiers ...string) (Components, error) {
	var c Components

	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))

		switch id {
		case ComponentMethod:
			c.method = true
		case ComponentTargetURI:
			c.targetURI = true
		case ComponentContentDigest:
			c.contentDigest = true
		case "":
			return Components{}, sigerr.New(sigerr.KindConfiguration, CodeUnknownComponent,
				"component identifier must not be empty")
		default:
			if strings.HasPrefix(id, "@") {
				return Components{}, sigerr.Newf(sigerr.KindConfiguration, CodeUnknownComponent,
					"unknown derived component %q", id)
			}
			if !slices.Contains(c.headers, id) {
				c.headers = append(c.headers, id)
			}
		}
	}

	return c, nil
}

// WithHeaders returns a copy that additionally covers the given header
// names, lowercased and deduplicated.
func (c Components) WithHeaders(names ...string) Components {
	out := c
	out.headers = slices.Clone(c.headers)

	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if !slices.Contains(out.headers, name) {
			out.headers = append(out.headers, name)
		}
	}

	return out
}

// WithContentDigest returns a copy that additionally covers the body digest.
func (c Components) WithContentDigest() Components {
	out := c
	out.headers = slices.Clone(c.headers)
	out.contentDigest = true
	return out
}

// CoversMethod reports whether @method is covered.
func (c Components) CoversMethod() bool { return c.method }

// CoversTargetURI reports whether @target-uri is covered.
func (c Components) CoversTargetURI() bool { return c.targetURI }

// CoversContentDigest reports whether the body digest is covered.
func (c Components) CoversContentDigest() bool { return c.contentDigest }

// Headers returns the covered header names in configured order.
func (c Components) Headers() []string {
	return slices.Clone(c.headers)
}

// Covers reports whether the selection includes the given identifier.
func (c Components) Covers(id string) bool {
	id = strings.ToLower(strings.TrimSpace(id))
	switch id {
	case ComponentMethod:
		return c.method
	case ComponentTargetURI:
		return c.targetURI
	case ComponentContentDigest:
		return c.contentDigest
	default:
		return slices.Contains(c.headers, id)
	}
}

// List returns the component identifiers in canonical emission order:
// @method, @target-uri, headers in configured order, content-digest.
func (c Components) List() []string {
	out := make([]string, 0, len(c.headers)+3)
	if c.method {
		out = append(out, ComponentMethod)
	}
	if c.targetURI {
		out = append(out, ComponentTargetURI)
	}
	out = append(out, c.headers...)
	if c.contentDigest {
		out = append(out, ComponentContentDigest)
	}
	return out
}

// Empty reports whether the selection covers nothing.
func (c Components) Empty() bool {
	return !c.method && !c.targetURI && !c.contentDigest && len(c.headers) == 0
}
