package interceptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/brotli"
	"github.com/antchfx/xmlquery"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/valyala/bytebufferpool"
)

// Tree is a queryable document built from a body. Exactly one of HTML and
// XML is set, depending on the content type the body was parsed under.
type Tree struct {
	HTML *goquery.Document
	XML  *xmlquery.Node
}

// IsXML reports whether the tree was parsed in XML mode.
func (t *Tree) IsXML() bool {
	return t.XML != nil
}

func (t *Tree) render() ([]byte, error) {
	if t.XML != nil {
		return []byte(t.XML.OutputXML(true)), nil
	}
	s, err := t.HTML.Html()
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// Body holds the payload of a request or response. It starts out as an
// unread stream and is loaded into memory on demand.
type Body struct {
	src    io.ReadCloser
	size   int64
	raw    []byte
	loaded bool

	view   View
	tree   *Tree
	json   any
	params url.Values

	hdr *Header
}

func newBody(hdr *Header) Body {
	return Body{hdr: hdr, size: 0, loaded: true}
}

func (b *Body) setSource(rc io.ReadCloser, size int64) {
	b.src = rc
	b.size = size
	b.raw = nil
	b.loaded = rc == nil
	b.dropView()
}

// Loaded reports whether the payload has been read into memory.
func (b *Body) Loaded() bool {
	return b.loaded
}

// Load reads the whole payload into memory, removing any content encoding.
// It is a no-op on a loaded body.
func (b *Body) Load() error {
	if b.loaded {
		return nil
	}
	src := b.src
	b.src = nil
	defer src.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	r, closeDecoder, err := decodeContent(src, b.hdr.Get("Content-Encoding"))
	if err != nil {
		return err
	}
	_, err = buf.ReadFrom(r)
	closeDecoder()
	if err != nil {
		return fmt.Errorf("load body: %w", err)
	}
	if b.hdr.Has("Content-Encoding") {
		b.hdr.Del("Content-Encoding")
	}
	b.raw = append([]byte(nil), buf.B...)
	b.size = int64(len(b.raw))
	b.loaded = true
	if b.hdr.Has("Content-Length") {
		b.hdr.Set("Content-Length", strconv.Itoa(len(b.raw)))
	}
	return nil
}

func decodeContent(r io.Reader, encoding string) (io.Reader, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, noop, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip body: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case "deflate":
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("deflate body: %w", err)
		}
		return zr, func() { zr.Close() }, nil
	case "br":
		return brotli.NewReader(r), noop, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, fmt.Errorf("zstd body: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// Bytes returns the current payload. A live view is serialized first so the
// result reflects what would be sent. When the view cannot be serialized the
// last good payload is returned; Err reports why, and sending fails with it.
func (b *Body) Bytes() []byte {
	b.flush()
	return b.raw
}

// Err reports whether the live view can be serialized.
func (b *Body) Err() error {
	return b.flush()
}

func (b *Body) String() string {
	return string(b.Bytes())
}

// SetBytes replaces the payload and drops any materialized view.
func (b *Body) SetBytes(p []byte) {
	if b.src != nil {
		b.src.Close()
		b.src = nil
	}
	b.raw = p
	b.size = int64(len(p))
	b.loaded = true
	b.dropView()
	b.hdr.Del("Content-Encoding")
}

func (b *Body) SetString(s string) {
	b.SetBytes([]byte(s))
}

// View returns the kind of the current materialized view.
func (b *Body) View() View {
	return b.view
}

// Tree returns the parsed document, nil unless the tree view is live.
func (b *Body) Tree() *Tree {
	return b.tree
}

// JSON returns the parsed JSON value, nil unless the json view is live.
func (b *Body) JSON() any {
	return b.json
}

// SetJSON replaces the json view. The value is marshaled when the body is sent.
func (b *Body) SetJSON(v any) {
	b.close()
	b.dropView()
	b.loaded = true
	b.view = ViewJSON
	b.json = v
}

// Params returns the parsed form values, nil unless the params view is live.
func (b *Body) Params() url.Values {
	return b.params
}

// Query runs a gjson path against the current payload. See Bytes for views
// that cannot be serialized.
func (b *Body) Query(path string) gjson.Result {
	return gjson.GetBytes(b.Bytes(), path)
}

// Patch sets the value at a gjson path in the current JSON payload.
func (b *Body) Patch(path string, value any) error {
	if err := b.flush(); err != nil {
		return err
	}
	out, err := sjson.SetBytes(b.raw, path, value)
	if err != nil {
		return fmt.Errorf("patch %s: %w", path, err)
	}
	b.SetBytes(out)
	return nil
}

func (b *Body) dropView() {
	b.view = ViewNone
	b.tree = nil
	b.json = nil
	b.params = nil
}

func (b *Body) flush() error {
	var (
		out []byte
		err error
	)
	switch b.view {
	case ViewTree:
		out, err = b.tree.render()
	case ViewJSON:
		out, err = json.Marshal(b.json)
	case ViewParams:
		out = []byte(b.params.Encode())
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("serialize %s view: %w", b.view, err)
	}
	b.raw = out
	b.size = int64(len(out))
	return nil
}

// materialize builds the requested view from the loaded payload.
func (b *Body) materialize(kind View, contentType string) error {
	if err := b.Load(); err != nil {
		return err
	}
	if err := b.flush(); err != nil {
		return err
	}
	m, ok := materializers[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidView, kind)
	}
	return m(b, contentType)
}

var materializers = map[View]func(b *Body, contentType string) error{
	ViewBuffer: func(*Body, string) error { return nil },
	ViewString: func(*Body, string) error { return nil },
	ViewTree: func(b *Body, contentType string) error {
		t := &Tree{}
		if isXML(contentType) {
			doc, err := xmlquery.Parse(bytes.NewReader(b.raw))
			if err != nil {
				return fmt.Errorf("parse xml body: %w", err)
			}
			t.XML = doc
		} else {
			doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b.raw))
			if err != nil {
				return fmt.Errorf("parse html body: %w", err)
			}
			t.HTML = doc
		}
		b.dropView()
		b.view, b.tree = ViewTree, t
		return nil
	},
	ViewJSON: func(b *Body, _ string) error {
		var v any
		if err := json.Unmarshal(b.raw, &v); err != nil {
			return fmt.Errorf("parse json body: %w", err)
		}
		b.dropView()
		b.view, b.json = ViewJSON, v
		return nil
	},
	ViewParams: func(b *Body, _ string) error {
		vs, err := url.ParseQuery(string(b.raw))
		if err != nil {
			return fmt.Errorf("parse params body: %w", err)
		}
		b.dropView()
		b.view, b.params = ViewParams, vs
		return nil
	},
}

// reader returns the payload to send and its length, -1 when unknown.
func (b *Body) reader() (io.Reader, int64, error) {
	if !b.loaded {
		return b.src, b.size, nil
	}
	if err := b.flush(); err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(b.raw), int64(len(b.raw)), nil
}

func (b *Body) close() {
	if b.src != nil {
		b.src.Close()
		b.src = nil
	}
}
