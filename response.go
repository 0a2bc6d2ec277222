package interceptor

import (
	"net/http"
	"strconv"
)

// Response is the mutable view interceptors get of the response. It stays
// empty until the origin answers or an interceptor fills it in.
type Response struct {
	StatusCode int
	Header     Header
	Body       Body
}

func newResponse() *Response {
	r := &Response{}
	r.Body = newBody(&r.Header)
	return r
}

// Populated reports whether a status code was set, either by the origin or by
// an interceptor. A response populated during the request phase stops the
// request from being forwarded.
func (r *Response) Populated() bool {
	return r.StatusCode != 0
}

func (r *Response) setHTTPSource(in *http.Response) {
	r.StatusCode = in.StatusCode
	r.Header = headerFromHTTP(in.Header, nil)
	r.Header.removeHopHeaders()
	r.Body = newBody(&r.Header)
	if in.Body != nil && in.Body != http.NoBody {
		r.Body.setSource(in.Body, in.ContentLength)
	}
}

// Fill replaces the response with a generated one carrying the given content
// type and body.
//
//	srv.On("request", interceptor.HandlerFunc(func(c *interceptor.Cycle) error {
//		if c.Request.Hostname == "localhost" {
//			c.Response.Fill(http.StatusForbidden, "text/html", "<html><body>no local addresses</body></html>")
//		}
//		return nil
//	}))
func (r *Response) Fill(status int, contentType, body string) {
	r.Reset(status)
	r.Header.Add("Content-Type", contentType)
	r.Header.Add("Content-Length", strconv.Itoa(len(body)))
	r.Body.SetString(body)
}

// Reset drops headers and body and sets a new status code.
func (r *Response) Reset(status int) {
	r.Body.close()
	r.StatusCode = status
	r.Header = Header{}
	r.Body = newBody(&r.Header)
}
