package interceptor

import (
	"io"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
)

type headerField struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Lookups are case-insensitive,
// the spelling a field was added with is kept for the wire.
type Header struct {
	fields []headerField
}

func (h *Header) Get(name string) string {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

func (h *Header) Values(name string) []string {
	var vs []string
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			vs = append(vs, f.Value)
		}
	}
	return vs
}

func (h *Header) Has(name string) bool {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

func (h *Header) Add(name, value string) {
	h.fields = append(h.fields, headerField{Name: name, Value: value})
}

// Set replaces every field named name with a single one, keeping the position
// of the first occurrence.
func (h *Header) Set(name, value string) {
	for i, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			h.fields[i].Value = value
			h.delFrom(name, i+1)
			return
		}
	}
	h.Add(name, value)
}

func (h *Header) Del(name string) {
	h.delFrom(name, 0)
}

func (h *Header) delFrom(name string, start int) {
	kept := h.fields[:start]
	for _, f := range h.fields[start:] {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

func (h *Header) Len() int {
	return len(h.fields)
}

// Each calls fn for every field in order.
func (h *Header) Each(fn func(name, value string)) {
	for _, f := range h.fields {
		fn(f.Name, f.Value)
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() Header {
	return Header{fields: append([]headerField(nil), h.fields...)}
}

// HTTPHeader converts to a net/http header map. Field names are used as
// written, so non canonical spellings survive a round trip through the
// transport.
func (h *Header) HTTPHeader() http.Header {
	out := make(http.Header, len(h.fields))
	for _, f := range h.fields {
		out[f.Name] = append(out[f.Name], f.Value)
	}
	return out
}

func (h *Header) write(w io.Writer) error {
	for _, f := range h.fields {
		if _, err := io.WriteString(w, f.Name+": "+f.Value+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}

// headerFromHTTP builds an ordered header from a net/http map. When names is
// given (original wire order and spelling) it decides the order, remaining
// keys follow sorted.
func headerFromHTTP(src http.Header, names []string) Header {
	var h Header
	used := make(map[string]int, len(src))
	for _, name := range names {
		key := textproto.CanonicalMIMEHeaderKey(name)
		vs, ok := src[key]
		if !ok {
			vs, ok = src[name]
			key = name
		}
		if !ok || used[key] >= len(vs) {
			continue
		}
		h.Add(name, vs[used[key]])
		used[key]++
	}
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range src[k][used[k]:] {
			h.Add(k, v)
		}
	}
	return h
}

// Hop-by-hop headers. These are removed when sent to the backend.
// http://www.w3.org/Protocols/rfc2616/rfc2616-sec13.html
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (h *Header) removeHopHeaders() {
	for _, name := range h.Values("Connection") {
		for _, token := range strings.Split(name, ",") {
			if token = strings.TrimSpace(token); token != "" {
				h.Del(token)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
