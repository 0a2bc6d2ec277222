// Package ghost serves files from a local directory in place of what the
// origin would answer, when such a file exists.
//
// Registered in the request phase, a local file answers the request and the
// origin is never contacted. Registered in the response phase, a local file
// replaces the body of a 200 origin response and keeps its headers, any other
// origin response is replaced entirely.
package ghost

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Windscribe/interceptor"
)

const serverName = "interceptor-ghost"

var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".json": "application/json",
	".gif":  "image/gif",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".svg":  "image/svg+xml",
	".txt":  "text/plain; charset=utf-8",
	".xml":  "application/xml",
	".xsl":  "application/xml",
}

func contentType(name string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return contentTypes[".txt"]
}

// Responder is an interceptor serving files out of Root.
type Responder struct {
	root string
	now  func() time.Time
}

// New checks that root is a readable directory.
func New(root string) (*Responder, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ghost: %w", err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("ghost: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("ghost: %s is not a directory", root)
	}
	return &Responder{root: abs, now: time.Now}, nil
}

// Register adds the responder to srv for phase, "request" or "response".
func (g *Responder) Register(srv *interceptor.Server, phase string) error {
	if phase != string(interceptor.PhaseRequest) && phase != string(interceptor.PhaseResponse) {
		return fmt.Errorf("ghost: cannot serve in phase %q", phase)
	}
	return srv.On(phase, g)
}

func (g *Responder) Handle(c *interceptor.Cycle, done func(error)) {
	done(g.serve(c))
}

// lookup maps a request url to a regular file under root.
func (g *Responder) lookup(rawURL string) (string, os.FileInfo, bool) {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	full := filepath.Join(g.root, filepath.FromSlash(path.Clean("/"+p)))
	if full != g.root && !strings.HasPrefix(full, g.root+string(filepath.Separator)) {
		return "", nil, false
	}
	st, err := os.Stat(full)
	if err != nil || st.IsDir() {
		return "", nil, false
	}
	return full, st, true
}

func (g *Responder) serve(c *interceptor.Cycle) error {
	if m := c.Request.Method; m != http.MethodGet && m != http.MethodHead {
		return nil
	}
	full, st, ok := g.lookup(c.Request.URL)
	if !ok {
		return nil
	}
	mtime := st.ModTime()
	etag := `"` + strconv.FormatInt(mtime.UnixMilli(), 10) + `"`

	if notModified(c.Request, etag, mtime) {
		c.Response.Reset(http.StatusNotModified)
		g.commonHeaders(&c.Response.Header, etag, mtime)
		c.Response.Header.Set("Content-Length", "0")
		return nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("ghost: %w", err)
	}
	if c.Phase() == interceptor.PhaseResponse && c.Response.StatusCode == http.StatusOK {
		c.Response.Body.SetBytes(data)
		c.Response.Header.Set("Content-Length", strconv.Itoa(len(data)))
		return nil
	}
	c.Response.Fill(http.StatusOK, contentType(full), string(data))
	g.commonHeaders(&c.Response.Header, etag, mtime)
	return nil
}

func (g *Responder) commonHeaders(h *interceptor.Header, etag string, mtime time.Time) {
	h.Set("Server", serverName)
	h.Set("Date", g.now().UTC().Format(http.TimeFormat))
	h.Set("Last-Modified", mtime.UTC().Format(http.TimeFormat))
	h.Set("ETag", etag)
}

// notModified implements the conditional GET check. If-None-Match wins over
// If-Modified-Since when both are present.
func notModified(req *interceptor.Request, etag string, mtime time.Time) bool {
	if inm := req.Header.Get("If-None-Match"); inm != "" {
		return inm == etag
	}
	ims := req.Header.Get("If-Modified-Since")
	if ims == "" {
		return false
	}
	t, err := http.ParseTime(ims)
	if err != nil {
		return false
	}
	return !mtime.Truncate(time.Second).After(t)
}
