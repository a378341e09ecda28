// Package session implements the session/token store: issuance with reuse,
// validation against the chosen revocation policy, and idempotent logout.
// The cache holds at most one live session per subject, keyed by email.
package session

import (
	"context"
	"time"

	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/logging/logger"
	"github.com/everstory/authcore/security/jwt"
	"github.com/everstory/authcore/utils"
)

// LiveCache caches the live session per subject. Satisfied by
// cache.Cache[structs.Session].
type LiveCache interface {
	Get(ctx context.Context, field string) (*structs.Session, error)
	Set(ctx context.Context, field string, sess *structs.Session, expire ...time.Duration) error
	SetIfAbsent(ctx context.Context, field string, sess *structs.Session, expire time.Duration) (bool, error)
	Delete(ctx context.Context, field string) error
}

// MarkCache records revoked tokens for the blacklist policy. Satisfied by
// cache.Cache[Mark].
type MarkCache interface {
	Exists(ctx context.Context, field string) (bool, error)
	Set(ctx context.Context, field string, mark *Mark, expire ...time.Duration) error
}

// LogoutOutcome is the result of a Logout call.
type LogoutOutcome int

const (
	LoggedOut LogoutOutcome = iota
	// AlreadyLoggedOut is a successful, idempotent outcome, not an error.
	AlreadyLoggedOut
)

// Store is the session/token authority's token side: it owns the live-session
// cache and applies the configured revocation policy uniformly.
type Store struct {
	live   LiveCache
	policy Policy
	tm     *jwt.TokenManager
	expiry time.Duration
	logger *logger.Logger
}

func NewStore(live LiveCache, policy Policy, tm *jwt.TokenManager, expiry time.Duration, log *logger.Logger) *Store {
	if expiry <= 0 {
		expiry = jwt.DefaultAccessTokenExpire
	}
	return &Store{
		live:   live,
		policy: policy,
		tm:     tm,
		expiry: expiry,
		logger: log,
	}
}

// IssueOrReuse returns the live session for the user, minting a new token
// when none exists or when forceNew is set. The reuse path makes repeated
// logins idempotent. Issuance uses an atomic set-if-absent so two concurrent
// calls for the same subject converge on a single live token.
func (s *Store) IssueOrReuse(ctx context.Context, user *structs.User, forceNew bool) (*structs.Session, error) {
	if !forceNew {
		cur, err := s.live.Get(ctx, user.Email)
		if err != nil {
			return nil, err
		}
		if cur != nil && time.Now().Before(cur.ExpiresAt) {
			return cur, nil
		}
	}

	sess, err := s.mint(user)
	if err != nil {
		return nil, err
	}

	if forceNew {
		if err := s.policy.Displace(ctx, sess, s.expiry); err != nil {
			return nil, err
		}
		s.logger.Infof(ctx, "session rotated for user %d", user.ID)
		return sess, nil
	}

	stored, err := s.live.SetIfAbsent(ctx, user.Email, sess, s.expiry)
	if err != nil {
		return nil, err
	}
	for !stored {
		// Lost the race: another request installed a session between our Get
		// and SetIfAbsent. Return that one instead of overwriting it.
		cur, err := s.live.Get(ctx, user.Email)
		if err != nil {
			return nil, err
		}
		if cur != nil && time.Now().Before(cur.ExpiresAt) {
			return cur, nil
		}
		// The winner is already gone. Contend for the slot again instead of
		// overwriting a session another caller may just have installed.
		stored, err = s.live.SetIfAbsent(ctx, user.Email, sess, s.expiry)
		if err != nil {
			return nil, err
		}
	}

	s.logger.Infof(ctx, "session issued for user %d", user.ID)
	return sess, nil
}

// Validate verifies the token signature and expiry first, without touching
// the cache, and only then applies the revocation policy.
func (s *Store) Validate(ctx context.Context, token string) (*structs.Identity, error) {
	claims, err := s.tm.DecodeToken(token)
	if err != nil {
		return nil, structs.ErrInvalidToken
	}

	email := jwt.GetSubjectFromToken(claims)
	if email == "" {
		return nil, structs.ErrInvalidToken
	}

	role := structs.Role(jwt.GetPayloadString(claims, "role"))
	if !role.Valid() {
		return nil, structs.ErrInvalidToken
	}

	live, err := s.policy.Live(ctx, email, token)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, structs.ErrInvalidToken
	}

	return &structs.Identity{
		ID:    jwt.GetPayloadInt64(claims, "user_id"),
		Email: email,
		Role:  role,
	}, nil
}

// Logout revokes the presented token. A token that is already non-live yields
// AlreadyLoggedOut so retries are harmless.
func (s *Store) Logout(ctx context.Context, token string) (LogoutOutcome, error) {
	claims, err := s.tm.DecodeToken(token)
	if err != nil {
		return 0, structs.ErrInvalidToken
	}

	email := jwt.GetSubjectFromToken(claims)
	if email == "" {
		return 0, structs.ErrInvalidToken
	}

	var remaining time.Duration
	if exp, ok := claims["exp"].(float64); ok {
		remaining = time.Until(time.Unix(int64(exp), 0))
	}

	revoked, err := s.policy.Revoke(ctx, email, token, remaining)
	if err != nil {
		return 0, err
	}
	if !revoked {
		return AlreadyLoggedOut, nil
	}

	s.logger.Infof(ctx, "session revoked for %s under %s policy", email, s.policy.Name())
	return LoggedOut, nil
}

func (s *Store) mint(user *structs.User) (*structs.Session, error) {
	now := time.Now()
	token, err := s.tm.GenerateAccessToken(utils.NanoID(), user.Email, map[string]any{
		"user_id": user.ID,
		"role":    string(user.Role),
	}, s.expiry)
	if err != nil {
		return nil, err
	}

	return &structs.Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.expiry),
	}, nil
}
