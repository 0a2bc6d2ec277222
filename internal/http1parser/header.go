package http1parser

import (
	"bytes"
	"errors"
)

var (
	ErrBadProto    = errors.New("bad protocol")
	ErrMissingData = errors.New("missing data")
)

// ExtractHeaderNames is an HTTP/1.0 and HTTP/1.1 header-only parser. It
// returns the header names of the request in input, in wire order and with
// their original spelling. Continuation lines are skipped.
func ExtractHeaderNames(input []byte) ([]string, error) {
	line, rest, ok := nextLine(input)
	if !ok {
		return nil, ErrMissingData
	}
	if len(bytes.Fields(line)) != 3 {
		return nil, ErrBadProto
	}

	var names []string
	for {
		line, rest, ok = nextLine(rest)
		if !ok {
			return nil, ErrMissingData
		}
		switch {
		case len(line) == 0:
			return names, nil
		case line[0] == ' ' || line[0] == '\t':
			if len(names) == 0 {
				return nil, ErrBadProto
			}
		default:
			i := bytes.IndexByte(line, ':')
			if i <= 0 {
				return nil, ErrBadProto
			}
			names = append(names, string(line[:i]))
		}
	}
}

// nextLine splits off one CRLF or LF terminated line.
func nextLine(b []byte) (line, rest []byte, ok bool) {
	i := bytes.IndexByte(b, '\n')
	if i < 0 {
		return nil, b, false
	}
	line = b[:i]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	} else if bytes.IndexByte(line, '\r') >= 0 {
		return nil, b, false
	}
	return line, b[i+1:], true
}

// headerEnd returns the length of the header block in b, or -1 when the
// blank line has not been seen yet.
func headerEnd(b []byte) int {
	for i := 0; i < len(b); i++ {
		if b[i] != '\n' {
			continue
		}
		switch {
		case i+1 < len(b) && b[i+1] == '\n':
			return i + 2
		case i+2 < len(b) && b[i+1] == '\r' && b[i+2] == '\n':
			return i + 3
		}
	}
	return -1
}
