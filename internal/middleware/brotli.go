package middleware

import (
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// CompressOptions tunes Compress. Zero values pick the defaults.
type CompressOptions struct {
	Level        int
	Threshold    int
	SkipSuffixes []string
}

const (
	defaultCompressLevel     = brotli.DefaultCompression
	defaultCompressThreshold = 1024
)

// Content types that are streamed or already dense.
var uncompressedTypes = map[string]bool{
	"text/event-stream": true,
	"text/csv":          true,
	"application/zip":   true,
	"image/png":         true,
	"image/jpeg":        true,
}

// Compress brotli-encodes responses of at least Threshold bytes for clients
// that accept "br". The decision is made once the body passes the threshold
// and the handler has set its Content-Type.
func Compress(opts CompressOptions) gin.HandlerFunc {
	if opts.Level < brotli.BestSpeed || opts.Level > brotli.BestCompression {
		opts.Level = defaultCompressLevel
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultCompressThreshold
	}

	return func(c *gin.Context) {
		if isUpgrade(c.Request) || hasSuffix(c.Request.URL.Path, opts.SkipSuffixes) || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")
		cw := &compressWriter{ResponseWriter: c.Writer, level: opts.Level, threshold: opts.Threshold}
		c.Writer = cw
		defer func() {
			if err := cw.close(); err != nil {
				_ = c.Error(err)
			}
		}()
		c.Next()
	}
}

type compressMode int

const (
	modeUndecided compressMode = iota
	modeBrotli
	modePlain
)

// compressWriter buffers the head of the body until it knows whether the
// response is worth encoding.
type compressWriter struct {
	gin.ResponseWriter
	level     int
	threshold int
	mode      compressMode
	pending   []byte
	br        *brotli.Writer
}

func (w *compressWriter) Write(p []byte) (int, error) {
	switch w.mode {
	case modeBrotli:
		return w.br.Write(p)
	case modePlain:
		return w.ResponseWriter.Write(p)
	}

	if !w.eligible() {
		if err := w.commit(modePlain); err != nil {
			return 0, err
		}
		return w.ResponseWriter.Write(p)
	}

	w.pending = append(w.pending, p...)
	if len(w.pending) >= w.threshold {
		if err := w.commit(modeBrotli); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (w *compressWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush settles on plain output when nothing has been decided yet, since a
// flushing handler wants bytes on the wire now.
func (w *compressWriter) Flush() {
	switch w.mode {
	case modeUndecided:
		_ = w.commit(modePlain)
	case modeBrotli:
		_ = w.br.Flush()
	}
	w.ResponseWriter.Flush()
}

func (w *compressWriter) eligible() bool {
	h := w.ResponseWriter.Header()
	if h.Get("Content-Encoding") != "" {
		return false
	}
	if w.ResponseWriter.Status() < http.StatusOK || w.ResponseWriter.Status() == http.StatusNoContent {
		return false
	}
	mt, _, err := mime.ParseMediaType(h.Get("Content-Type"))
	return err != nil || !uncompressedTypes[mt]
}

func (w *compressWriter) commit(mode compressMode) error {
	w.mode = mode
	if mode == modeBrotli {
		h := w.ResponseWriter.Header()
		h.Set("Content-Encoding", "br")
		h.Del("Content-Length")
		w.br = brotli.NewWriterLevel(w.ResponseWriter, w.level)
		_, err := w.br.Write(w.pending)
		w.pending = nil
		return err
	}
	if len(w.pending) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.pending)
	w.pending = nil
	return err
}

func (w *compressWriter) close() error {
	switch w.mode {
	case modeBrotli:
		return w.br.Close()
	case modeUndecided:
		return w.commit(modePlain)
	}
	return nil
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") ||
		strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func hasSuffix(path string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(path, s) {
			return true
		}
	}
	return false
}

// acceptsBrotli honours explicit q=0 refusals.
func acceptsBrotli(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), "br") {
			continue
		}
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			v, err := strconv.ParseFloat(q, 64)
			return err == nil && v > 0
		}
		return true
	}
	return false
}
