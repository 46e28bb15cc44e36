package policy

import "strings"

// builtinDocument is the policy source shipped with the module. Kept as a
// document rather than struct literals so built-ins and caller-supplied
// files go through the same loader.
const builtinDocument = `
policies:
  - name: strict
    check_timestamp: true
    check_nonce: true
    check_content_digest: true
    max_timestamp_age: 5m
    required_components: ["@method", "@target-uri", "content-digest"]
    allowed_algorithms: ["ed25519"]
    forbid_extra_components: true

  - name: standard
    check_timestamp: true
    check_nonce: true
    check_content_digest: false
    max_timestamp_age: 1h
    required_components: ["@method", "@target-uri"]
    allowed_algorithms: ["ed25519"]
    forbid_extra_components: false

  - name: lenient
    check_timestamp: false
    check_nonce: false
    check_content_digest: false
    required_components: []
    allowed_algorithms: ["ed25519"]
    forbid_extra_components: false

  - name: legacy
    check_timestamp: true
    check_nonce: false
    check_content_digest: false
    max_timestamp_age: 24h
    required_components: ["@method"]
    allowed_algorithms: ["ed25519"]
    forbid_extra_components: false
`

// Default returns a fresh registry with the four built-in policies. It
// panics if the built-in document fails to load, which can only mean the
// shipped document is broken.
func Default() *Registry {
	r, err := Load(strings.NewReader(builtinDocument))
	if err != nil {
		panic("policy: built-in document is invalid: " + err.Error())
	}
	return r
}
