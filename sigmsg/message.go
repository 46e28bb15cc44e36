// Package sigmsg holds the protocol-neutral view of an HTTP message used
// for signing and verification: the message itself, the selection of
// covered components, and RFC 9530 content digests.
package sigmsg

import (
	"bytes"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/perimetra/sigil/sigerr"
)

// methods is the set of HTTP verbs a Message accepts.
var methods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodConnect: {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

// Message is a snapshot of the facts of one HTTP exchange that signing and
// verification operate on. Header keys are case-insensitive; the last value
// set for a key wins. Messages are built per call and not mutated by any
// operation in this module.
type Message struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

// New returns a Message for the given method and absolute URL. The method
// is upcased and must be a standard HTTP verb.
func New(method, rawURL string) (*Message, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if _, ok := methods[method]; !ok {
		return nil, sigerr.Newf(sigerr.KindValidation, CodeInvalidMethod,
			"method %q is not a standard HTTP verb", method)
	}

	return &Message{
		method:  method,
		url:     rawURL,
		headers: make(map[string]string),
	}, nil
}

// FromRequest builds a Message from an *http.Request. The body is read in
// full and replaced so downstream consumers can read it again. For inbound
// requests the absolute URL is reconstructed from the TLS state, Host and
// request target.
func FromRequest(r *http.Request) (*Message, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	m, err := New(method, requestURL(r))
	if err != nil {
		return nil, err
	}

	for name, values := range r.Header {
		m.SetHeader(name, strings.Join(values, ", "))
	}
	if _, ok := m.Header("host"); !ok && r.Host != "" {
		m.SetHeader("host", r.Host)
	}

	body, err := readAndRestoreBody(r)
	if err != nil {
		return nil, sigerr.Wrap(err, sigerr.KindValidation, CodeUnreadableBody,
			"request body cannot be read")
	}
	m.body = body

	return m, nil
}

// requestURL reconstructs the absolute target URL for a request. Outbound
// requests carry it on r.URL already; inbound ones only carry the request
// target, so scheme and authority come from the connection state.
func requestURL(r *http.Request) string {
	if r.URL != nil && r.URL.IsAbs() {
		return r.URL.String()
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}

	target := ""
	if r.URL != nil {
		target = r.URL.RequestURI()
	}

	return scheme + "://" + strings.ToLower(host) + target
}

// readAndRestoreBody reads the entire request body and replaces it with a
// new reader so the body can be consumed again by downstream handlers.
func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}

// Method returns the upcased HTTP verb.
func (m *Message) Method() string {
	return m.method
}

// URL returns the absolute target URL as given at construction.
func (m *Message) URL() string {
	return m.url
}

// SetHeader records a header value. Keys are lowercased; setting an
// existing key overwrites its value. It returns the message for chaining.
func (m *Message) SetHeader(name, value string) *Message {
	m.headers[strings.ToLower(strings.TrimSpace(name))] = value
	return m
}

// SetHeaders records every entry of h via SetHeader. Keys are visited in
// sorted order so case-variant duplicates resolve deterministically.
func (m *Message) SetHeaders(h map[string]string) *Message {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m.SetHeader(name, h[name])
	}

	return m
}

// Header returns the value for a header name, matched case-insensitively.
func (m *Message) Header(name string) (string, bool) {
	v, ok := m.headers[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// Headers returns a copy of the header map with lowercased keys.
func (m *Message) Headers() map[string]string {
	out := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}

// HeaderNames returns the lowercased header names in sorted order.
func (m *Message) HeaderNames() []string {
	names := make([]string, 0, len(m.headers))
	for name := range m.headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetBody records the message body. The bytes are copied.
func (m *Message) SetBody(body []byte) *Message {
	if body == nil {
		m.body = nil
		return m
	}
	m.body = bytes.Clone(body)
	return m
}

// SetBodyString records a text body.
func (m *Message) SetBodyString(body string) *Message {
	m.body = []byte(body)
	return m
}

// Body returns the message body, or nil when the message has none. Callers
// must not modify the returned slice.
func (m *Message) Body() []byte {
	return m.body
}

// HasBody reports whether the message carries a non-empty body.
func (m *Message) HasBody() bool {
	return len(m.body) > 0
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	out := &Message{
		method:  m.method,
		url:     m.url,
		headers: make(map[string]string, len(m.headers)),
	}
	for k, v := range m.headers {
		out.headers[k] = v
	}
	if m.body != nil {
		out.body = bytes.Clone(m.body)
	}
	return out
}
