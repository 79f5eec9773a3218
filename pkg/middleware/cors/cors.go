package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Policy holds the allowed origins. An empty policy allows every origin.
type Policy struct {
	allowAll bool
	origins  map[string]struct{}
}

// NewPolicy builds a Policy from configured origins; "*" allows all.
func NewPolicy(allowedOrigins []string) Policy {
	p := Policy{origins: make(map[string]struct{}, len(allowedOrigins))}
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			p.allowAll = true
			continue
		}
		if origin != "" {
			p.origins[origin] = struct{}{}
		}
	}
	if len(p.origins) == 0 {
		p.allowAll = true
	}
	return p
}

// Allows reports whether origin may call the API. Requests without an Origin header
// are same-origin or non-browser and always pass.
func (p Policy) Allows(origin string) bool {
	if origin == "" || p.allowAll {
		return true
	}
	_, ok := p.origins[strings.TrimRight(origin, "/")]
	return ok
}

// New returns a simple CORS middleware that honors a list of allowed origins.
func New(allowedOrigins []string) gin.HandlerFunc {
	policy := NewPolicy(allowedOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if policy.Allows(origin) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			}
		} else if policy.allowAll {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, PATCH, OPTIONS")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
