package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/everstory/authcore/auth/service"
	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/ecode"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/net/resp"
)

const identityKey = "identity"

// HeaderTraceID carries the request's trace id back to the caller.
const HeaderTraceID = "X-Trace-Id"

// Trace stamps a trace id on the request context so log entries across the
// handler chain correlate, and logs the request once it is served.
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, traceID := logger.EnsureTraceID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(HeaderTraceID, traceID)

		start := time.Now()
		c.Next()

		logger.EntryWithFields(ctx, logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Info("request served")
	}
}

// Authenticated resolves the bearer token and stores the identity on the
// gin context for downstream handlers.
func Authenticated(svc *service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			unauthorized(c, "Missing or malformed authorization header")
			c.Abort()
			return
		}

		ident, err := svc.Verify(c.Request.Context(), token)
		if err != nil {
			unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(identityKey, ident)
		c.Next()
	}
}

// RequireRole gates a route group to the given roles. It must run after
// Authenticated.
func RequireRole(roles ...structs.Role) gin.HandlerFunc {
	allowed := make(map[structs.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		ident := IdentityFrom(c)
		if ident == nil {
			unauthorized(c, "Missing or malformed authorization header")
			c.Abort()
			return
		}
		if _, ok := allowed[ident.Role]; !ok {
			resp.Fail(c.Writer, resp.Forbidden(ecode.Text(ecode.AccessDenied)))
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the identity Authenticated stored, or nil.
func IdentityFrom(c *gin.Context) *structs.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	ident, ok := v.(*structs.Identity)
	if !ok {
		logger.Warnf(c.Request.Context(), "identity context holds unexpected type %T", v)
		return nil
	}
	return ident
}
