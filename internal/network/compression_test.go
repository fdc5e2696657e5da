// File: internal/network/compression_test.go
package network

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Test Setup and Helpers --

func gzipCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func brotliCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write(data)
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

// trackingBody records whether Close was called on the original stream.
type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func compressedResponse(body []byte, encodings ...string) (*http.Response, *trackingBody) {
	tracked := &trackingBody{Reader: bytes.NewReader(body)}
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Header:        make(http.Header),
		Body:          tracked,
		ContentLength: int64(len(body)),
	}
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	for _, enc := range encodings {
		resp.Header.Add("Content-Encoding", enc)
	}
	return resp, tracked
}

// -- Test Cases --

func TestDecodeResponse_Gzip(t *testing.T) {
	payload := []byte(`{"email":"maple-circuit-3f2@alias.example.net"}`)
	resp, tracked := compressedResponse(gzipCompress(t, payload), "gzip")

	require.NoError(t, DecodeResponse(resp))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Empty(t, resp.Header.Get("Content-Length"))
	assert.Equal(t, int64(-1), resp.ContentLength)
	assert.True(t, resp.Uncompressed)

	require.NoError(t, resp.Body.Close())
	assert.True(t, tracked.closed, "original body should be closed through the wrapper")
}

func TestDecodeResponse_Brotli(t *testing.T) {
	payload := []byte(`{"token":"card_4f91","last_four":"4242"}`)
	resp, tracked := compressedResponse(brotliCompress(t, payload), "br")

	require.NoError(t, DecodeResponse(resp))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, resp.Body.Close())
	assert.True(t, tracked.closed)
}

// Layers are listed in the order applied, so "br, gzip" means the gzip layer
// is the outermost and must be removed first.
func TestDecodeResponse_LayeredEncodings(t *testing.T) {
	payload := []byte("layered payload")
	encoded := gzipCompress(t, brotliCompress(t, payload))
	resp, _ := compressedResponse(encoded, "br", "gzip")

	require.NoError(t, DecodeResponse(resp))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	require.NoError(t, resp.Body.Close())
}

func TestDecodeResponse_IdentityUntouched(t *testing.T) {
	payload := []byte("plain text")
	resp, _ := compressedResponse(payload, "identity")

	require.NoError(t, DecodeResponse(resp))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeResponse_NoEncodingHeader(t *testing.T) {
	payload := []byte("plain text")
	resp, _ := compressedResponse(payload)

	require.NoError(t, DecodeResponse(resp))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.False(t, resp.Uncompressed)
}

func TestDecodeResponse_UnsupportedEncoding(t *testing.T) {
	resp, _ := compressedResponse([]byte("whatever"), "zstd")

	err := DecodeResponse(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported Content-Encoding")
}

func TestDecodeResponse_CorruptGzipStream(t *testing.T) {
	resp, _ := compressedResponse([]byte("definitely not gzip"), "gzip")

	err := DecodeResponse(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gzip initialization error")
}

// Exercises the reader pools across several decode/close cycles.
func TestDecodeResponse_PooledReaderReuse(t *testing.T) {
	payload := []byte("pooled payload")
	for i := 0; i < 4; i++ {
		resp, _ := compressedResponse(gzipCompress(t, payload), "gzip")
		require.NoError(t, DecodeResponse(resp))

		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		require.NoError(t, resp.Body.Close())

		resp, _ = compressedResponse(brotliCompress(t, payload), "br")
		require.NoError(t, DecodeResponse(resp))

		got, err = io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		require.NoError(t, resp.Body.Close())
	}
}

func TestDecodingTransport_NegotiatesAndDecodes(t *testing.T) {
	payload := []byte(`{"ok":true}`)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, acceptedEncodings, r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(brotliCompress(t, payload))
	}))
	defer server.Close()

	client := &http.Client{Transport: NewDecodingTransport(nil)}
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.True(t, resp.Uncompressed)
}

func TestDecodingTransport_RespectsExistingAcceptEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	client := &http.Client{Transport: NewDecodingTransport(nil)}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
