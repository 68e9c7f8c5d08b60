package middleware

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultBodyLimit = 1 << 20 // 1 MB

var errBodyTooLarge = echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")

// BodyLimit caps the request body size. Invoice and payment payloads are
// small JSON documents, so anything past the cap is either a client bug
// or abuse.
//
// The limit is a human-readable size such as "1M" or "512K"; suffixes
// K, M and G (optionally with a trailing B) are recognized and a bare
// number is bytes. Unparseable limits fall back to 1 MB.
func BodyLimit(limit string) echo.MiddlewareFunc {
	maxBytes := parseLimit(limit)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			body := c.Request().Body
			if body == nil || body == http.NoBody {
				return next(c)
			}

			// Declared length gives an early rejection, but clients can
			// lie or omit it, so the reader below enforces the cap on
			// the actual bytes.
			if c.Request().ContentLength > maxBytes {
				return errBodyTooLarge
			}
			c.Request().Body = &limitedReadCloser{ReadCloser: body, remaining: maxBytes}
			return next(c)
		}
	}
}

// limitedReadCloser fails the read once more than the allowed number of
// bytes has come off the wire.
type limitedReadCloser struct {
	io.ReadCloser
	remaining int64
	exceeded  bool
}

func (r *limitedReadCloser) Read(p []byte) (int, error) {
	if r.exceeded {
		return 0, errBodyTooLarge
	}

	// Read one byte past the allowance so overflow is detected on this
	// call rather than the next.
	if max := r.remaining + 1; int64(len(p)) > max {
		p = p[:max]
	}

	n, err := r.ReadCloser.Read(p)
	r.remaining -= int64(n)
	if r.remaining < 0 {
		r.exceeded = true
		return 0, errBodyTooLarge
	}
	return n, err
}

var sizeSuffixes = []struct {
	suffix     string
	multiplier int64
}{
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
}

func parseLimit(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return defaultBodyLimit
	}

	var multiplier int64 = 1
	for _, ss := range sizeSuffixes {
		if strings.HasSuffix(s, ss.suffix) {
			multiplier = ss.multiplier
			s = strings.TrimSuffix(s, ss.suffix)
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultBodyLimit
	}
	return n * multiplier
}
