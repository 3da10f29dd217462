package httpclient

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const plainBody = `{"users":[{"id":1,"name":"Ada"},{"id":2,"name":"Grace"}]}`

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestDecompression(t *testing.T) {
	plain := []byte(plainBody)

	tests := []struct {
		name     string
		encoding string
		body     []byte
		want     []byte
		wantErr  bool
	}{
		{name: "given gzip, then decodes", encoding: "gzip", body: gzipBytes(t, plain), want: plain},
		{name: "given x-gzip, then decodes", encoding: "x-gzip", body: gzipBytes(t, plain), want: plain},
		{name: "given zlib deflate, then decodes", encoding: "deflate", body: zlibBytes(t, plain), want: plain},
		{name: "given raw deflate, then decodes", encoding: "deflate", body: rawDeflateBytes(t, plain), want: plain},
		{name: "given brotli, then decodes", encoding: "br", body: brotliBytes(t, plain), want: plain},
		{name: "given zstd, then decodes", encoding: "zstd", body: zstdBytes(t, plain), want: plain},
		{name: "given stacked encodings, then undoes in reverse", encoding: "gzip, br", body: brotliBytes(t, gzipBytes(t, plain)), want: plain},
		{name: "given identity, then passes through", encoding: "identity", body: plain, want: plain},
		{name: "given unknown encoding, then passes through", encoding: "compress", body: []byte("xyz"), want: []byte("xyz")},
		{name: "given corrupt gzip, then transport error", encoding: "gzip", body: []byte("not gzip"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := NewStubTransport().EnqueueWithHeader(200, http.Header{"Content-Encoding": {tt.encoding}}, string(tt.body))

			resp, err := Chain(stub, Decompression(0)).
				Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

			assert.Equal(t, AcceptEncoding, stub.LastRequest().Header.Get("Accept-Encoding"))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KindTransport, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.Body)
		})
	}
}

func TestDecompression_HeadersAfterDecode(t *testing.T) {
	stub := NewStubTransport().EnqueueWithHeader(200, http.Header{
		"Content-Encoding": {"gzip"},
		"Content-Length":   {"12"},
	}, string(gzipBytes(t, []byte(plainBody))))
	req := newTestRequest(t, http.MethodGet, "https://api.example.com/x")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := Chain(stub, Decompression(0)).Send(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "gzip", stub.LastRequest().Header.Get("Accept-Encoding"))
	assert.Empty(t, resp.Header.Get("Content-Encoding"))
	assert.Equal(t, "57", resp.Header.Get("Content-Length"))
	assert.Len(t, plainBody, 57)
}

func TestDecompression_SizeLimit(t *testing.T) {
	const limit = 1 << 20
	bomb := bytes.Repeat([]byte{0}, 8<<20)

	tests := []struct {
		name     string
		encoding string
		body     []byte
		wantErr  bool
	}{
		{name: "given gzip bomb, then body too large", encoding: "gzip", body: gzipBytes(t, bomb), wantErr: true},
		{name: "given deflate bomb, then body too large", encoding: "deflate", body: zlibBytes(t, bomb), wantErr: true},
		{name: "given brotli bomb, then body too large", encoding: "br", body: brotliBytes(t, bomb), wantErr: true},
		{name: "given zstd bomb, then body too large", encoding: "zstd", body: zstdBytes(t, bomb), wantErr: true},
		{name: "given body exactly at limit, then decodes", encoding: "gzip", body: gzipBytes(t, bomb[:limit])},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Less(t, len(tt.body), limit)
			stub := NewStubTransport().EnqueueWithHeader(200, http.Header{"Content-Encoding": {tt.encoding}}, string(tt.body))

			resp, err := Chain(stub, Decompression(limit)).
				Send(context.Background(), newTestRequest(t, http.MethodGet, "https://api.example.com/x"))

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errBodyTooLarge)
				var transportErr *TransportError
				assert.ErrorAs(t, err, &transportErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, resp.Body, limit)
		})
	}
}
