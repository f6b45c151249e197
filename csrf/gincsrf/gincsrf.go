// Package gincsrf adapts the net/http CSRF middleware to Gin.
package gincsrf

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JeanGrijp/go-xsrf/csrf"
)

// Middleware runs p in front of the remaining Gin handlers. Rejected
// requests abort the chain with the response p already wrote.
func Middleware(p *csrf.Protector) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		h := p.Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			// keep gin context in sync with the *http.Request carrying the token
			c.Request = r
			c.Next()
		}))
		h.ServeHTTP(c.Writer, c.Request)
		if !passed {
			c.Abort()
		}
	}
}

// Token returns the CSRF token of the current request, if any.
func Token(c *gin.Context) (string, bool) {
	return csrf.TokenFromContext(c.Request.Context())
}
