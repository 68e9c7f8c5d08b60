package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths lists URL paths that should bypass bearer authentication.
// Health checks carry no credentials, and payment provider callbacks
// authenticate by provider signature instead of a JWT.
var publicPaths = map[string]bool{
	"/health":                         true,
	"/health/db":                      true,
	"/api/v1/payments/webhook/stripe": true,
	"/api/v1/payments/webhook/mpesa":  true,
}

// AuthSkipper returns true for requests whose path should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether the given path bypasses auth middleware.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
