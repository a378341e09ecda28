package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/everstory/authcore/net/resp"
)

// Pinger reports backing store liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health answers 200 while the backing stores respond and 503 otherwise.
func Health(pinger Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pinger != nil {
			if err := pinger.Ping(c.Request.Context()); err != nil {
				resp.Fail(c.Writer, &resp.Exception{
					Status:  http.StatusServiceUnavailable,
					Message: "degraded",
					Errors:  err.Error(),
				})
				return
			}
		}
		resp.Success(c.Writer, gin.H{"status": "ok"})
	}
}
