package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SetCORSHeaders writes the relay's CORS headers. Allow-Origin is always the
// wildcard; allowAll adds wildcard Allow-Headers and Allow-Methods.
func SetCORSHeaders(h http.Header, allowAll bool) {
	h.Set(echo.HeaderAccessControlAllowOrigin, "*")
	if allowAll {
		h.Set(echo.HeaderAccessControlAllowHeaders, "*")
		h.Set(echo.HeaderAccessControlAllowMethods, "*")
	}
}

// CORS returns an Echo middleware that attaches CORS headers to every
// response, answers preflight requests with 204 and strips hop-by-hop
// headers from the inbound request.
func CORS(allowAll bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			// Set before next so error responses carry them too.
			res := c.Response().Header()
			SetCORSHeaders(res, allowAll)
			res.Set(echo.HeaderXContentTypeOptions, "nosniff")

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}
