// Package gateway fronts the platform services: it resolves identities
// through the authority, then proxies requests to the upstreams with the
// caller's identity stamped on the headers.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/logging/logger"
)

// AuthClient resolves bearer tokens to identities by calling the authority
// over HTTP. A circuit breaker shields the gateway when the authority
// degrades; an open breaker fails closed.
type AuthClient struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

func NewAuthClient(baseURL string, log *logger.Logger) *AuthClient {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "auth-service",
		MaxRequests: 100,
		Interval:    5 * time.Second,
		Timeout:     3 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// A rejected token is a verdict, not an authority failure.
		IsSuccessful: func(err error) bool {
			return err == nil || err == errUnauthorized
		},
	})

	return &AuthClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
		breaker: cb,
		logger:  log,
	}
}

// Resolve returns the identity behind the token, or (nil, false) when the
// token is invalid or the authority is unreachable.
func (c *AuthClient) Resolve(ctx context.Context, token string) (*structs.Identity, bool) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetchIdentity(ctx, token)
	})
	if err != nil {
		if err != errUnauthorized {
			c.logger.Warnf(ctx, "identity resolution failed: %v", err)
		}
		return nil, false
	}
	return result.(*structs.Identity), true
}

var errUnauthorized = fmt.Errorf("authority rejected token")

func (c *AuthClient) fetchIdentity(ctx context.Context, token string) (*structs.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/me", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
		var ident structs.Identity
		if err := json.NewDecoder(res.Body).Decode(&ident); err != nil {
			return nil, err
		}
		return &ident, nil
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, res.Body)
		return nil, errUnauthorized
	default:
		return nil, fmt.Errorf("authority returned status %d", res.StatusCode)
	}
}
