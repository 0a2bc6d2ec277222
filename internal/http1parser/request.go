package http1parser

import (
	"bufio"
	"errors"
	"io"
	"net/http"
)

// MaxHeaderBytes bounds the header block that can be inspected for names.
// Larger requests are still read, their header order is then unknown.
const MaxHeaderBytes = 64 << 10

// RequestReader reads consecutive requests from one connection and reports
// the original header names of each.
type RequestReader struct {
	reader *bufio.Reader
}

func NewRequestReader(conn io.Reader) *RequestReader {
	return &RequestReader{reader: bufio.NewReaderSize(conn, MaxHeaderBytes)}
}

func (r *RequestReader) IsEOF() bool {
	_, err := r.reader.Peek(1)
	return errors.Is(err, io.EOF)
}

// Reader exposes the buffered reader, bytes buffered past the last request
// belong to whoever takes over the connection.
func (r *RequestReader) Reader() *bufio.Reader {
	return r.reader
}

// ReadRequest reads the next request. names lists header names as sent by the
// client, nil when they could not be recovered.
func (r *RequestReader) ReadRequest() (req *http.Request, names []string, err error) {
	head, err := r.peekHead()
	if err != nil {
		return nil, nil, err
	}
	if head != nil {
		names, _ = ExtractHeaderNames(head)
	}
	req, err = http.ReadRequest(r.reader)
	if err != nil {
		return nil, nil, err
	}
	return req, names, nil
}

// peekHead waits until the whole header block is buffered and returns it
// without consuming it. A block larger than the buffer yields nil.
func (r *RequestReader) peekHead() ([]byte, error) {
	n := 1
	for {
		buf, err := r.reader.Peek(n)
		if err != nil {
			if errors.Is(err, bufio.ErrBufferFull) {
				return nil, nil
			}
			if len(buf) > 0 && errors.Is(err, io.EOF) {
				// let http.ReadRequest report the truncated request
				return nil, nil
			}
			return nil, err
		}
		buf, _ = r.reader.Peek(r.reader.Buffered())
		if end := headerEnd(buf); end >= 0 {
			return buf[:end], nil
		}
		n = len(buf) + 1
	}
}
