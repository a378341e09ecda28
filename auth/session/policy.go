package session

import (
	"context"
	"time"

	"github.com/everstory/authcore/auth/structs"
)

// Policy decides how a previously issued token stops being live. Exactly one
// policy is selected at startup and applied to issuance, validation and
// logout alike; the two strategies must never be mixed.
type Policy interface {
	Name() string

	// Live reports whether token is currently the live token for subject.
	Live(ctx context.Context, subject, token string) (bool, error)

	// Displace installs sess as the live session for its subject,
	// invalidating whatever token was live before.
	Displace(ctx context.Context, sess *structs.Session, ttl time.Duration) error

	// Revoke ends the session the presented token belongs to. It reports
	// false when the token was already non-live, which callers surface as an
	// idempotent "already logged out" outcome rather than an error.
	Revoke(ctx context.Context, subject, token string, remaining time.Duration) (bool, error)
}

// Mark is a blacklist entry for a revoked token. The entry expires together
// with the token itself, so the blacklist cannot grow without bound.
type Mark struct {
	Subject   string    `json:"subject"`
	RevokedAt time.Time `json:"revoked_at"`
}

// ReplacementPolicy treats a token as live only while it equals the cached
// session for its subject. Logout deletes the cache entry; replacing the
// session implicitly revokes the predecessor.
type ReplacementPolicy struct {
	live LiveCache
}

func NewReplacementPolicy(live LiveCache) *ReplacementPolicy {
	return &ReplacementPolicy{live: live}
}

func (p *ReplacementPolicy) Name() string { return "replacement" }

func (p *ReplacementPolicy) Live(ctx context.Context, subject, token string) (bool, error) {
	cur, err := p.live.Get(ctx, subject)
	if err != nil {
		return false, err
	}
	return cur != nil && cur.Token == token, nil
}

func (p *ReplacementPolicy) Displace(ctx context.Context, sess *structs.Session, ttl time.Duration) error {
	return p.live.Set(ctx, sess.Email, sess, ttl)
}

func (p *ReplacementPolicy) Revoke(ctx context.Context, subject, token string, _ time.Duration) (bool, error) {
	cur, err := p.live.Get(ctx, subject)
	if err != nil {
		return false, err
	}
	if cur == nil || cur.Token != token {
		return false, nil
	}
	if err := p.live.Delete(ctx, subject); err != nil {
		return false, err
	}
	return true, nil
}

// BlacklistPolicy treats a token as live until it appears in a negative
// cache of revoked tokens keyed by the raw token value. The live-session
// entry is still maintained for reuse, and is dropped alongside every
// revocation so a revoked token can never be handed out again.
type BlacklistPolicy struct {
	live  LiveCache
	marks MarkCache
}

func NewBlacklistPolicy(live LiveCache, marks MarkCache) *BlacklistPolicy {
	return &BlacklistPolicy{live: live, marks: marks}
}

func (p *BlacklistPolicy) Name() string { return "blacklist" }

func (p *BlacklistPolicy) Live(ctx context.Context, _, token string) (bool, error) {
	revoked, err := p.marks.Exists(ctx, token)
	if err != nil {
		return false, err
	}
	return !revoked, nil
}

func (p *BlacklistPolicy) Displace(ctx context.Context, sess *structs.Session, ttl time.Duration) error {
	cur, err := p.live.Get(ctx, sess.Email)
	if err != nil {
		return err
	}
	if cur != nil && cur.Token != sess.Token {
		if err := p.mark(ctx, cur); err != nil {
			return err
		}
	}
	return p.live.Set(ctx, sess.Email, sess, ttl)
}

func (p *BlacklistPolicy) Revoke(ctx context.Context, subject, token string, remaining time.Duration) (bool, error) {
	revoked, err := p.marks.Exists(ctx, token)
	if err != nil {
		return false, err
	}
	if revoked {
		return false, nil
	}
	if remaining <= 0 {
		remaining = time.Second
	}
	if err := p.marks.Set(ctx, token, &Mark{Subject: subject, RevokedAt: time.Now()}, remaining); err != nil {
		return false, err
	}
	if err := p.live.Delete(ctx, subject); err != nil {
		return false, err
	}
	return true, nil
}

func (p *BlacklistPolicy) mark(ctx context.Context, cur *structs.Session) error {
	remaining := time.Until(cur.ExpiresAt)
	if remaining <= 0 {
		return nil
	}
	return p.marks.Set(ctx, cur.Token, &Mark{Subject: cur.Email, RevokedAt: time.Now()}, remaining)
}
