package interceptor

import (
	"fmt"
	"strings"
)

// View names an on-demand materialization of a body.
type View string

const (
	ViewNone   View = ""
	ViewBuffer View = "buffer"
	ViewString View = "string"
	ViewTree   View = "tree"
	ViewJSON   View = "json"
	ViewParams View = "params"
)

// ParseView validates a body view name. The empty name means no view.
func ParseView(name string) (View, error) {
	v := View(name)
	if v == ViewNone {
		return v, nil
	}
	if _, ok := materializers[v]; !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidView, name)
	}
	return v, nil
}

func mimeType(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}

// isXML decides whether a tree view is parsed in XML mode.
func isXML(contentType string) bool {
	mt := strings.ToLower(mimeType(contentType))
	return mt == "text/xml" || mt == "application/xml" || strings.HasSuffix(mt, "+xml")
}
