package liveserver

import (
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var encoderPool = sync.Pool{
	New: func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		return enc
	},
}

type zstdResponseWriter struct {
	http.ResponseWriter
	enc         *zstd.Encoder
	wroteHeader bool
}

func (z *zstdResponseWriter) WriteHeader(code int) {
	if z.wroteHeader {
		return
	}
	z.wroteHeader = true
	h := z.Header()
	h.Del("Content-Length")
	h.Set("Content-Encoding", "zstd")
	h.Add("Vary", "Accept-Encoding")
	z.ResponseWriter.WriteHeader(code)
}

func (z *zstdResponseWriter) Write(b []byte) (int, error) {
	if !z.wroteHeader {
		z.WriteHeader(http.StatusOK)
	}
	return z.enc.Write(b)
}

// Compress zstd-encodes responses for clients that accept it. Chain views
// are mostly repeated keys and compress several times over.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !acceptsZstd(r.Header.Get("Accept-Encoding")) {
			next.ServeHTTP(w, r)
			return
		}

		enc := encoderPool.Get().(*zstd.Encoder)
		enc.Reset(w)
		zw := &zstdResponseWriter{ResponseWriter: w, enc: enc}
		defer func() {
			if zw.wroteHeader {
				_ = enc.Close()
			}
			enc.Reset(nil)
			encoderPool.Put(enc)
		}()

		next.ServeHTTP(zw, r)
	})
}

func acceptsZstd(header string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "zstd") {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}
