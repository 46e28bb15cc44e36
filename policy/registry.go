package policy

import (
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/perimetra/sigil/sigerr"
)

// Registry is a named set of policies, loaded once at startup. Lookups are
// safe for concurrent use; Register is not and belongs in setup code.
type Registry struct {
	policies map[string]Policy
}

// document is the on-disk shape of a policy file.
type document struct {
	Policies []Policy `yaml:"policies"`
}

// NewRegistry builds a registry from the given policies. Every policy must
// validate and names must be unique.
func NewRegistry(policies ...Policy) (*Registry, error) {
	r := &Registry{policies: make(map[string]Policy, len(policies))}

	for _, p := range policies {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Register adds one policy, replacing nothing: a duplicate name is a
// configuration error.
func (r *Registry) Register(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if _, exists := r.policies[p.Name]; exists {
		return sigerr.Newf(sigerr.KindConfiguration, CodeDuplicatePolicy,
			"policy %q is already registered", p.Name)
	}

	r.policies[p.Name] = p.normalize()

	return nil
}

// Get returns a deep copy of the named policy. Unknown names are a hard
// error, never a silent fallback.
func (r *Registry) Get(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, sigerr.Newf(sigerr.KindConfiguration, CodeUnknownPolicy,
			"no policy named %q", name).With("known", r.Names())
	}

	return p.clone(), nil
}

// Has reports whether the registry knows name.
func (r *Registry) Has(name string) bool {
	_, ok := r.policies[name]
	return ok
}

// Names returns the registered policy names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads a YAML policy document and builds a registry from it.
func Load(r io.Reader) (*Registry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindConfiguration, CodeMalformedDocument,
			"policy document cannot be read")
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindConfiguration, CodeMalformedDocument,
			"policy document cannot be parsed")
	}

	if len(doc.Policies) == 0 {
		return nil, sigerr.New(sigerr.KindConfiguration, CodeMalformedDocument,
			"policy document defines no policies")
	}

	return NewRegistry(doc.Policies...)
}

// LoadFile reads a YAML policy document from disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindConfiguration, CodeMalformedDocument,
			"policy file cannot be opened").With("path", path)
	}
	defer f.Close()

	return Load(f)
}
