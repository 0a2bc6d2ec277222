package interceptor

import (
	"regexp"
	"strings"
	"sync"
)

type tester func(string) bool

// testers memoizes compiled matchers, keyed by the raw string or by the
// *regexp.Regexp pointer. Shared by every server in the process.
var testers sync.Map

var routeParam = regexp.MustCompile(`:[A-Za-z_][A-Za-z0-9_]*`)

// isRoute reports whether s is a route template such as "/user/:id" or
// "/static/*".
func isRoute(s string) bool {
	return strings.Contains(s, "*") || routeParam.MatchString(s)
}

// routeTester compiles a URL matcher. An empty pattern matches only the empty
// value, a route template matches by segments, anything else by equality.
func routeTester(pattern string) tester {
	if t, ok := testers.Load(pattern); ok {
		return t.(tester)
	}
	var t tester
	switch {
	case pattern == "":
		t = func(v string) bool { return v == "" }
	case isRoute(pattern):
		t = compileRoute(pattern)
	default:
		t = func(v string) bool { return v == pattern }
	}
	actual, _ := testers.LoadOrStore(pattern, t)
	return actual.(tester)
}

// compileRoute turns a template into an anchored expression. Named params
// match exactly one non-empty segment, "*" matches anything. Unless the
// template itself has a query part, the query of the tested value is ignored.
func compileRoute(pattern string) tester {
	var b strings.Builder
	b.WriteByte('^')
	rest := pattern
	for rest != "" {
		loc := routeParam.FindStringIndex(rest)
		star := strings.IndexByte(rest, '*')
		switch {
		case loc != nil && (star < 0 || loc[0] < star):
			b.WriteString(regexp.QuoteMeta(rest[:loc[0]]))
			b.WriteString(`([^/?#]+)`)
			rest = rest[loc[1]:]
		case star >= 0:
			b.WriteString(regexp.QuoteMeta(rest[:star]))
			b.WriteString(`(.*)`)
			rest = rest[star+1:]
		default:
			b.WriteString(regexp.QuoteMeta(rest))
			rest = ""
		}
	}
	b.WriteByte('$')
	re := regexp.MustCompile(b.String())
	withQuery := strings.Contains(pattern, "?")
	return func(v string) bool {
		if !withQuery {
			if i := strings.IndexByte(v, '?'); i >= 0 {
				v = v[:i]
			}
		}
		return re.MatchString(v)
	}
}

func regexpTester(re *regexp.Regexp) tester {
	if t, ok := testers.Load(re); ok {
		return t.(tester)
	}
	actual, _ := testers.LoadOrStore(re, tester(re.MatchString))
	return actual.(tester)
}
