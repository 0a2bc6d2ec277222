// Package har records exchanges in HTTP Archive form.
// HAR specification: http://www.softwareishard.com/blog/har-12-spec/
package har

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Windscribe/interceptor"
)

type Har struct {
	Log Log `json:"log"`
}

type Log struct {
	Version string  `json:"version"`
	Creator Creator `json:"creator"`
	Entries []Entry `json:"entries"`
	Comment string  `json:"comment,omitempty"`
}

func New(entries ...Entry) *Har {
	return &Har{
		Log: Log{
			Version: "1.2",
			Creator: Creator{Name: "interceptor", Version: "1.0"},
			Entries: append([]Entry{}, entries...),
		},
	}
}

func (har *Har) AppendEntry(entry ...Entry) {
	har.Log.Entries = append(har.Log.Entries, entry...)
}

type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Entry struct {
	StartedDateTime time.Time `json:"startedDateTime"`
	Time            int64     `json:"time"`
	Request         *Request  `json:"request"`
	Response        *Response `json:"response"`
	Cache           struct{}  `json:"cache"`
	Timings         Timings   `json:"timings"`
	ServerIPAddress string    `json:"serverIPAddress,omitempty"`
	Comment         string    `json:"comment,omitempty"`
}

type Request struct {
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	HTTPVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	QueryString []NameValuePair `json:"queryString"`
	PostData    *PostData       `json:"postData,omitempty"`
	BodySize    int64           `json:"bodySize"`
	HeadersSize int64           `json:"headersSize"`
}

type Response struct {
	Status      int             `json:"status"`
	StatusText  string          `json:"statusText"`
	HTTPVersion string          `json:"httpVersion"`
	Cookies     []Cookie        `json:"cookies"`
	Headers     []NameValuePair `json:"headers"`
	Content     Content         `json:"content"`
	RedirectURL string          `json:"redirectURL"`
	BodySize    int64           `json:"bodySize"`
	HeadersSize int64           `json:"headersSize"`
}

type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Path     string `json:"path,omitempty"`
	Domain   string `json:"domain,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

type NameValuePair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type PostData struct {
	MimeType string          `json:"mimeType"`
	Params   []NameValuePair `json:"params,omitempty"`
	Text     string          `json:"text,omitempty"`
}

type Content struct {
	Size     int    `json:"size"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text,omitempty"`
}

type Timings struct {
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
}

func headerPairs(h *interceptor.Header) ([]NameValuePair, int64) {
	pairs := make([]NameValuePair, 0, h.Len())
	var size int64
	h.Each(func(name, value string) {
		pairs = append(pairs, NameValuePair{Name: name, Value: value})
		size += int64(len(name) + len(value) + 4)
	})
	return pairs, size
}

func convertCookies(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
	}
	return out
}

func bodySize(b *interceptor.Body) int64 {
	if !b.Loaded() {
		return -1
	}
	return int64(len(b.Bytes()))
}

// ParseRequest describes the request of a cycle. Bodies are only included
// when they were loaded by the time the entry is built.
func ParseRequest(r *interceptor.Request, captureContent bool) *Request {
	headers, headersSize := headerPairs(&r.Header)
	out := &Request{
		Method:      r.Method,
		URL:         r.FullURL(),
		HTTPVersion: "HTTP/1.1",
		Cookies:     convertCookies((&http.Request{Header: http.Header{"Cookie": r.Header.Values("Cookie")}}).Cookies()),
		Headers:     headers,
		QueryString: []NameValuePair{},
		BodySize:    bodySize(&r.Body),
		HeadersSize: headersSize,
	}
	if i := strings.IndexByte(r.URL, '?'); i >= 0 {
		if q, err := url.ParseQuery(r.URL[i+1:]); err == nil {
			for k, vs := range q {
				for _, v := range vs {
					out.QueryString = append(out.QueryString, NameValuePair{Name: k, Value: v})
				}
			}
		}
	}
	if captureContent && r.Body.Loaded() && len(r.Body.Bytes()) > 0 {
		out.PostData = parsePostData(r)
	}
	return out
}

func parsePostData(r *interceptor.Request) *PostData {
	pd := &PostData{MimeType: r.Header.Get("Content-Type")}
	if strings.HasPrefix(pd.MimeType, "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(r.Body.String()); err == nil {
			for k, vs := range form {
				for _, v := range vs {
					pd.Params = append(pd.Params, NameValuePair{Name: k, Value: v})
				}
			}
			return pd
		}
	}
	pd.Text = r.Body.String()
	return pd
}

// ParseResponse describes the response of a cycle.
func ParseResponse(r *interceptor.Response, captureContent bool) *Response {
	headers, headersSize := headerPairs(&r.Header)
	out := &Response{
		Status:      r.StatusCode,
		StatusText:  http.StatusText(r.StatusCode),
		HTTPVersion: "HTTP/1.1",
		Cookies:     convertCookies((&http.Response{Header: http.Header{"Set-Cookie": r.Header.Values("Set-Cookie")}}).Cookies()),
		Headers:     headers,
		RedirectURL: r.Header.Get("Location"),
		BodySize:    bodySize(&r.Body),
		HeadersSize: headersSize,
		Content:     Content{MimeType: r.Header.Get("Content-Type")},
	}
	if captureContent && r.Body.Loaded() {
		body := r.Body.Bytes()
		out.Content.Size = len(body)
		out.Content.Text = string(body)
	}
	return out
}
