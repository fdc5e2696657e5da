// File: internal/network/compression.go
package network

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Pools for decompression readers to cut allocation churn on the request path.
var (
	gzipReaderPool = sync.Pool{
		New: func() any {
			// Allocate the struct only; Reset() runs before every use.
			return new(gzip.Reader)
		},
	}

	brotliReaderPool = sync.Pool{
		New: func() any {
			// brotli.NewReader(nil) yields a reusable reader ready for Reset().
			return brotli.NewReader(nil)
		},
	}
)

// Shared empty reader used for safely resetting pooled readers.
var emptyReader = strings.NewReader("")

// getGzipReader retrieves a gzip reader from the pool and resets it with the new source.
func getGzipReader(r io.Reader) (*gzip.Reader, error) {
	zr := gzipReaderPool.Get().(*gzip.Reader)
	if err := zr.Reset(r); err != nil {
		// Reset re-initializes state, so the allocation stays reusable even
		// after a failed header read. Put it back and report the error.
		gzipReaderPool.Put(zr)
		return nil, err
	}
	return zr, nil
}

// putGzipReader returns a gzip reader to the pool.
func putGzipReader(zr *gzip.Reader) {
	if zr == nil {
		return
	}
	// Reset with an empty reader rather than nil; Reset(nil) tries to read a
	// header and can panic on older Go versions.
	_ = zr.Reset(emptyReader)
	gzipReaderPool.Put(zr)
}

// getBrotliReader retrieves a brotli reader from the pool and resets it.
func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

// putBrotliReader returns a brotli reader to the pool.
func putBrotliReader(br *brotli.Reader) {
	if br == nil {
		return
	}
	_ = br.Reset(emptyReader)
	brotliReaderPool.Put(br)
}

// acceptedEncodings is what the decoding transport advertises upstream.
const acceptedEncodings = "br, gzip"

// DecodingTransport is an http.RoundTripper that transparently handles
// response decompression. It advertises brotli and gzip on outgoing requests
// and unwraps whatever Content-Encoding the server answered with, so callers
// always read a plain body.
type DecodingTransport struct {
	// Transport is the underlying round tripper. Nil falls back to
	// http.DefaultTransport.
	Transport http.RoundTripper
}

// NewDecodingTransport wraps transport with transparent response decoding.
func NewDecodingTransport(transport http.RoundTripper) *DecodingTransport {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &DecodingTransport{Transport: transport}
}

// RoundTrip implements http.RoundTripper.
func (dt *DecodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptedEncodings)
	}

	resp, err := dt.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecodeResponse(resp); err != nil {
		// The body stream may be partially consumed; the response is unusable.
		_ = resp.Body.Close()
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return resp, nil
}

// closeWrapper closes the decompression reader and the underlying original
// body, returning pooled readers on the way out.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
	poolCallback func()
}

func (w *closeWrapper) Close() error {
	if w.poolCallback != nil {
		w.poolCallback()
		w.poolCallback = nil
	}

	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	return errors.Join(err1, err2)
}

// DecodeResponse inspects the Content-Encoding header and wraps resp.Body
// with the matching decompression reader(s) in place. Encoding layers are
// listed in the order they were applied, so they are unwound in reverse.
// Supported encodings are brotli and gzip; identity layers are skipped.
//
// After wrapping, Content-Encoding and Content-Length are dropped and
// resp.Uncompressed is set. If an error is returned the body may have been
// partially read and the caller must close and discard the response.
func DecodeResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.ReadCloser
		var poolCallback func()

		switch encoding {
		case "gzip":
			zr, err := getGzipReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip initialization error: %w", err)
			}
			reader = zr
			poolCallback = func() { putGzipReader(zr) }

		case "br":
			br, err := getBrotliReader(resp.Body)
			if err != nil {
				return fmt.Errorf("brotli initialization error: %w", err)
			}
			// brotli.Reader does not implement io.Closer.
			reader = io.NopCloser(br)
			poolCallback = func() { putBrotliReader(br) }

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		// The wrapped body becomes the input for the next layer, if any.
		resp.Body = &closeWrapper{
			ReadCloser:   reader,
			originalBody: resp.Body,
			poolCallback: poolCallback,
		}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true

	return nil
}
