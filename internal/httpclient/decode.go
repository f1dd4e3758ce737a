package httpclient

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// decodingTransport undoes Content-Encoding when the caller set
// Accept-Encoding itself (net/http only decompresses gzip it asked for).
type decodingTransport struct {
	next http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.Uncompressed {
		return resp, nil
	}
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if enc == "" || enc == "identity" {
		return resp, nil
	}
	body, err := decodeBody(enc, resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decode %s body: %w", enc, err)
	}
	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

func decodeBody(enc string, body io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(body)
	// An empty body carries no encoded stream (e.g. a gzip-tagged empty 404).
	if _, err := br.Peek(1); errors.Is(err, io.EOF) {
		return &decodedBody{Reader: br, closers: []io.Closer{body}}, nil
	}
	switch enc {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
	case "deflate":
		if head, err := br.Peek(2); err == nil && isZlibHeader(head) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, err
			}
			return &decodedBody{Reader: zr, closers: []io.Closer{zr, body}}, nil
		}
		fr := flate.NewReader(br)
		return &decodedBody{Reader: fr, closers: []io.Closer{fr, body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(br), closers: []io.Closer{body}}, nil
	default:
		return &decodedBody{Reader: br, closers: []io.Closer{body}}, nil
	}
}

// isZlibHeader reports whether b starts an RFC 1950 stream
// (CM=8, header checksum divisible by 31).
func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
