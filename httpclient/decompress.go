package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is the value Decompression advertises.
const AcceptEncoding = "gzip, deflate, br, zstd"

// Decompression negotiates response compression. It sets Accept-Encoding
// when the request has none, then decodes gzip, x-gzip, deflate, br and zstd
// bodies (stacked encodings are undone in reverse order). A decoded response
// has Content-Encoding removed and Content-Length set to the decoded size.
//
// maxBytes caps each decoded body; a response that inflates past it fails
// with a TransportError. Non-positive means DefaultMaxResponseBodyBytes.
// Pass the transport's Config.MaxResponseBodyBytes to keep one limit.
//
// A response with any encoding it does not know is passed through untouched.
func Decompression(maxBytes int64) Middleware {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBodyBytes
	}

	return func(next Sender) Sender {
		return SenderFunc(func(ctx context.Context, req *Request) (*Response, error) {
			if req.Header.Get("Accept-Encoding") == "" {
				req.Header.Set("Accept-Encoding", AcceptEncoding)
			}

			resp, err := next.Send(ctx, req)
			if err != nil {
				return nil, err
			}

			encodings := contentEncodings(resp.Header.Get("Content-Encoding"))
			if len(encodings) == 0 || len(resp.Body) == 0 || !allKnown(encodings) {
				return resp, nil
			}

			body := resp.Body
			for i := len(encodings) - 1; i >= 0; i-- {
				body, err = decodeContent(encodings[i], body, maxBytes)
				if err != nil {
					return nil, transportErr(req, fmt.Errorf("decode %s body: %w", encodings[i], err))
				}
			}

			resp.Body = body
			resp.Header.Del("Content-Encoding")
			resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
			return resp, nil
		})
	}
}

func contentEncodings(header string) []string {
	var out []string
	for _, enc := range strings.Split(header, ",") {
		enc = strings.ToLower(strings.TrimSpace(enc))
		if enc != "" && enc != "identity" {
			out = append(out, enc)
		}
	}
	return out
}

func allKnown(encodings []string) bool {
	for _, enc := range encodings {
		switch enc {
		case "gzip", "x-gzip", "deflate", "br", "zstd":
		default:
			return false
		}
	}
	return true
}

func decodeContent(encoding string, body []byte, maxBytes int64) ([]byte, error) {
	src := bytes.NewReader(body)
	switch encoding {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return readLimited(r, maxBytes)
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		if r, err := zlib.NewReader(src); err == nil {
			defer r.Close()
			return readLimited(r, maxBytes)
		}
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		return readLimited(r, maxBytes)
	case "br":
		return readLimited(brotli.NewReader(src), maxBytes)
	case "zstd":
		r, err := zstd.NewReader(src,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(maxBytes)+1),
		)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		out, err := readLimited(r, maxBytes)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, fmt.Errorf("%w: %d bytes", errBodyTooLarge, maxBytes)
		}
		return out, err
	}
	return nil, fmt.Errorf("unsupported encoding %q", encoding)
}

// readLimited reads r to the end, failing with errBodyTooLarge once more
// than maxBytes come out.
func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", errBodyTooLarge, maxBytes)
	}
	return out, nil
}
