package gateway

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/net/resp"
)

// Headers the gateway stamps on proxied requests for the upstreams.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
)

// TokenResolver is what the middleware needs from an identity source.
// AuthClient satisfies it over HTTP; VerifierResolver satisfies it over the
// pub/sub bridge.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*structs.Identity, bool)
}

// Authenticated guards every route except the public prefixes. It strips any
// identity headers the caller forged, resolves the bearer token, and stamps
// the verified identity before the request reaches an upstream.
func Authenticated(resolver TokenResolver, publicPrefixes []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, _ := logger.EnsureTraceID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		c.Request.Header.Del(HeaderUserID)
		c.Request.Header.Del(HeaderUserRole)

		if isPublic(c.Request.URL.Path, publicPrefixes) {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortUnauthorized(c, "Missing or malformed authorization header")
			return
		}

		ident, ok := resolver.Resolve(c.Request.Context(), token)
		if !ok {
			abortUnauthorized(c, "Invalid or expired token")
			return
		}

		c.Request.Header.Set(HeaderUserID, strconv.FormatInt(ident.ID, 10))
		c.Request.Header.Set(HeaderUserRole, string(ident.Role))
		logger.Debugf(c.Request.Context(), "authenticated request for user %d", ident.ID)
		c.Next()
	}
}

func isPublic(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

func abortUnauthorized(c *gin.Context, message string) {
	resp.Fail(c.Writer, resp.UnAuthorized(message))
	c.Abort()
}
