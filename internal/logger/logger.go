package logger

import (
	"io"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/response"
)

// Setup parses level (trace ... panic, defaulting to info), sets it as the
// global level and returns a stdout logger tagged with app. format is
// "json" for production or "pretty" for a console layout.
func Setup(app, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return New(os.Stdout, format).Level(lvl).With().Str("app", app).Logger()
}

// New builds a logger on w without touching global state.
func New(w io.Writer, format string) zerolog.Logger {
	if format == "pretty" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}

// Middleware writes one access line per request. Server errors log at
// error, client errors at warn, the rest at debug so health probes and
// polling stay out of production logs.
func Middleware(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Debug()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("request_id", response.RequestID(c))
		if len(c.Errors) > 0 {
			ev.Str("errors", c.Errors.String())
		}
		ev.Msg("request")
	}
}
