package interceptor

import (
	"regexp"
)

// Match is a single predicate condition: an exact string (or route template
// for URL fields) or a regular expression.
type Match struct {
	str string
	re  *regexp.Regexp
}

// String matches a value by equality. On URL and FullURL fields a string
// containing ":name" segments or "*" is treated as a route template.
func String(s string) *Match {
	return &Match{str: s}
}

// Regexp matches when re finds a match anywhere in the value.
func Regexp(re *regexp.Regexp) *Match {
	return &Match{re: re}
}

func (m *Match) test(v string, route bool) bool {
	if m.re != nil {
		return regexpTester(m.re)(v)
	}
	if route {
		return routeTester(m.str)(v)
	}
	return v == m.str
}

func (m *Match) String() string {
	if m.re != nil {
		return "/" + m.re.String() + "/"
	}
	return m.str
}

// Predicate holds the structural conditions of an interceptor. A nil field
// always matches.
type Predicate struct {
	ContentType         *Match
	MimeType            *Match
	RequestContentType  *Match
	ResponseContentType *Match
	RequestMimeType     *Match
	ResponseMimeType    *Match
	Protocol            *Match
	Host                *Match
	Hostname            *Match
	Port                *Match
	Method              *Match
	URL                 *Match
	FullURL             *Match
}

type predicateField struct {
	m     *Match
	value func(c *Cycle) string
	route bool
}

func (p *Predicate) fields() []predicateField {
	reqCT := func(c *Cycle) string { return c.Request.Header.Get("Content-Type") }
	respCT := func(c *Cycle) string { return c.Response.Header.Get("Content-Type") }
	sideCT := func(c *Cycle) string {
		if c.Phase().IsRequestSide() {
			return reqCT(c)
		}
		return respCT(c)
	}
	mime := func(ct func(*Cycle) string) func(*Cycle) string {
		return func(c *Cycle) string { return mimeType(ct(c)) }
	}
	return []predicateField{
		{m: p.ContentType, value: sideCT},
		{m: p.MimeType, value: mime(sideCT)},
		{m: p.RequestContentType, value: reqCT},
		{m: p.ResponseContentType, value: respCT},
		{m: p.RequestMimeType, value: mime(reqCT)},
		{m: p.ResponseMimeType, value: mime(respCT)},
		{m: p.Protocol, value: func(c *Cycle) string { return c.Request.Protocol }},
		{m: p.Host, value: func(c *Cycle) string { return c.Request.Header.Get("Host") }},
		{m: p.Hostname, value: func(c *Cycle) string { return c.Request.Hostname }},
		{m: p.Port, value: func(c *Cycle) string { return c.Request.effectivePort() }},
		{m: p.Method, value: func(c *Cycle) string { return c.Request.Method }},
		{m: p.URL, value: func(c *Cycle) string { return c.Request.URL }, route: true},
		{m: p.FullURL, value: func(c *Cycle) string { return c.Request.FullURL() }, route: true},
	}
}

// Matches reports whether every present condition holds for the cycle.
func (p *Predicate) Matches(c *Cycle) bool {
	if p == nil {
		return true
	}
	for _, f := range p.fields() {
		if f.m == nil {
			continue
		}
		if !f.m.test(f.value(c), f.route) {
			return false
		}
	}
	return true
}
