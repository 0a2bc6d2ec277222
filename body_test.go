package interceptor

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/antchfx/xmlquery"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamBody(h *Header, payload string) *Body {
	b := newBody(h)
	b.setSource(io.NopCloser(strings.NewReader(payload)), int64(len(payload)))
	return &b
}

func TestTreeViewPicksParserFromContentType(t *testing.T) {
	var h Header
	b := streamBody(&h, `<feed><item>one</item><item>two</item></feed>`)
	require.NoError(t, b.materialize(ViewTree, "application/atom+xml; charset=utf-8"))
	require.True(t, b.Tree().IsXML())
	items := xmlquery.Find(b.Tree().XML, "//item")
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[1].InnerText())

	b = streamBody(&h, `<html><body><p class="x">hello</p></body></html>`)
	require.NoError(t, b.materialize(ViewTree, "text/html"))
	require.False(t, b.Tree().IsXML())
	assert.Equal(t, "hello", b.Tree().HTML.Find("p.x").Text())

	b.Tree().HTML.Find("p.x").SetText("changed")
	assert.Contains(t, b.String(), `<p class="x">changed</p>`)
}

func TestJSONView(t *testing.T) {
	var h Header
	b := streamBody(&h, `{"a":1,"list":["x"]}`)
	require.NoError(t, b.materialize(ViewJSON, "application/json"))
	doc, ok := b.JSON().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), doc["a"])

	doc["a"] = 2
	assert.JSONEq(t, `{"a":2,"list":["x"]}`, b.String())

	b.SetJSON([]int{1, 2})
	assert.Equal(t, "[1,2]", b.String())
	assert.Equal(t, ViewJSON, b.View())
}

func TestParamsView(t *testing.T) {
	var h Header
	b := streamBody(&h, "user=ann&tag=a&tag=b")
	require.NoError(t, b.materialize(ViewParams, "application/x-www-form-urlencoded"))
	assert.Equal(t, "ann", b.Params().Get("user"))
	assert.Equal(t, []string{"a", "b"}, b.Params()["tag"])

	b.Params().Set("user", "bob")
	assert.Contains(t, b.String(), "user=bob")
}

func TestStringAndBufferViews(t *testing.T) {
	var h Header
	b := streamBody(&h, "plain")
	require.NoError(t, b.materialize(ViewString, ""))
	assert.True(t, b.Loaded())
	assert.Equal(t, "plain", b.String())
	require.NoError(t, b.materialize(ViewBuffer, ""))
	assert.Equal(t, []byte("plain"), b.Bytes())
}

func TestViewFailures(t *testing.T) {
	var h Header
	require.Error(t, streamBody(&h, "{").materialize(ViewJSON, ""))
	require.Error(t, streamBody(&h, "a=%zz").materialize(ViewParams, ""))
	require.ErrorIs(t, streamBody(&h, "").materialize(View("yaml"), ""), ErrInvalidView)
}

func TestRawMutationDropsView(t *testing.T) {
	var h Header
	b := streamBody(&h, `{"a":1}`)
	require.NoError(t, b.materialize(ViewJSON, ""))
	b.SetString(`{"b":2}`)
	assert.Equal(t, ViewNone, b.View())
	assert.Nil(t, b.JSON())

	require.NoError(t, b.materialize(ViewJSON, ""))
	assert.Equal(t, float64(2), b.JSON().(map[string]any)["b"])
}

func TestLoadDecodesContent(t *testing.T) {
	var zipped bytes.Buffer
	zw := gzip.NewWriter(&zipped)
	_, err := zw.Write([]byte("decoded text"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	var h Header
	h.Set("Content-Encoding", "gzip")
	h.Set("Content-Length", "999")
	b := streamBody(&h, zipped.String())
	require.NoError(t, b.Load())

	assert.Equal(t, "decoded text", b.String())
	assert.False(t, h.Has("Content-Encoding"))
	assert.Equal(t, "12", h.Get("Content-Length"))
}

func TestLoadRejectsUnknownEncoding(t *testing.T) {
	var h Header
	h.Set("Content-Encoding", "compress")
	b := streamBody(&h, "data")
	require.Error(t, b.Load())
}

func TestQueryAndPatch(t *testing.T) {
	var h Header
	b := streamBody(&h, `{"user":{"name":"ann","roles":["a"]}}`)
	require.NoError(t, b.Load())
	assert.Equal(t, "ann", b.Query("user.name").String())
	require.NoError(t, b.Patch("user.name", "bob"))
	assert.Equal(t, "bob", b.Query("user.name").String())
	assert.Equal(t, "a", b.Query("user.roles.0").String())
}

func TestUnserializableViewSurfacesError(t *testing.T) {
	var h Header
	b := newBody(&h)
	b.SetString(`{"a":1}`)
	b.SetJSON(map[string]any{"f": func() {}})

	assert.Error(t, b.Err())
	assert.Equal(t, `{"a":1}`, string(b.Bytes()), "last good payload")
	assert.Error(t, b.Patch("b", 2))
	_, _, err := b.reader()
	assert.Error(t, err)

	b.SetJSON(map[string]any{"ok": true})
	require.NoError(t, b.Err())
	require.NoError(t, b.Patch("b", 2))
	assert.JSONEq(t, `{"ok":true,"b":2}`, b.String())
}
