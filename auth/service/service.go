// Package service implements the session/token authority: signup into the
// holding area, login with atomic promotion, logout and token verification.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/everstory/authcore/auth/events"
	"github.com/everstory/authcore/auth/repository"
	"github.com/everstory/authcore/auth/session"
	"github.com/everstory/authcore/auth/structs"
	"github.com/everstory/authcore/crypto"
	"github.com/everstory/authcore/logging/logger"
)

type Service struct {
	users     repository.UserRepository
	pending   repository.PendingRepository
	sessions  *session.Store
	announcer events.Announcer
	logger    *logger.Logger
}

func NewService(users repository.UserRepository, pending repository.PendingRepository, sessions *session.Store, announcer events.Announcer, log *logger.Logger) *Service {
	if announcer == nil {
		announcer = events.Noop{}
	}
	return &Service{
		users:     users,
		pending:   pending,
		sessions:  sessions,
		announcer: announcer,
		logger:    log,
	}
}

// Signup stores a not-yet-confirmed registration in the holding area. The
// record becomes an authenticatable identity only on first login.
func (s *Service) Signup(ctx context.Context, name, email, password string) error {
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return structs.ErrAlreadyRegistered
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	hash, err := crypto.HashPassword(ctx, password)
	if err != nil {
		return err
	}

	pending := &structs.PendingUser{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.pending.Create(ctx, pending); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return structs.ErrAlreadyRegistered
		}
		return err
	}

	s.logger.Infof(ctx, "user signed up: %s", email)
	s.announce(ctx, events.UserSignedUp, map[string]any{"email": email, "name": name})
	return nil
}

// Login authenticates against the confirmed store first and falls back to
// the holding area, promoting the pending registration on a credential
// match. Wrong credentials yield the same error either way.
func (s *Service) Login(ctx context.Context, email, password string) (*structs.TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if user != nil && crypto.ComparePassword(user.PasswordHash, password) {
		return s.issue(ctx, user)
	}

	pending, err := s.pending.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, structs.ErrInvalidCredentials
		}
		return nil, err
	}
	if !crypto.ComparePassword(pending.PasswordHash, password) {
		return nil, structs.ErrInvalidCredentials
	}

	user, err = s.promote(ctx, pending)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, user)
}

// promote converts the pending registration into a confirmed identity. The
// users.email unique constraint serializes concurrent promotions: the loser
// re-reads the identity the winner created.
func (s *Service) promote(ctx context.Context, pending *structs.PendingUser) (*structs.User, error) {
	user, err := s.users.Promote(ctx, pending)
	if err == nil {
		s.logger.Infof(ctx, "pending user %d promoted: %s", user.ID, user.Email)
		s.announce(ctx, events.UserPromoted, map[string]any{"user_id": user.ID, "email": user.Email})
		return user, nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return nil, err
	}
	return s.users.FindByEmail(ctx, pending.Email)
}

func (s *Service) issue(ctx context.Context, user *structs.User) (*structs.TokenPair, error) {
	sess, err := s.sessions.IssueOrReuse(ctx, user, false)
	if err != nil {
		return nil, err
	}
	return &structs.TokenPair{
		AccessToken: sess.Token,
		TokenType:   "Bearer",
	}, nil
}

// Logout revokes the presented token under the configured policy. A second
// logout of the same token yields AlreadyLoggedOut, not an error.
func (s *Service) Logout(ctx context.Context, token string) (session.LogoutOutcome, error) {
	return s.sessions.Logout(ctx, token)
}

// Verify validates the token (signature, expiry, revocation policy) and
// resolves its subject against the identity store.
func (s *Service) Verify(ctx context.Context, token string) (*structs.Identity, error) {
	ident, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, ident.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, structs.ErrSubjectNotFound
		}
		return nil, err
	}

	return &structs.Identity{ID: user.ID, Email: user.Email, Role: user.Role}, nil
}

// GetUser returns the confirmed account for an already verified identity.
func (s *Service) GetUser(ctx context.Context, id int64) (*structs.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, structs.ErrSubjectNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) announce(ctx context.Context, key string, payload map[string]any) {
	payload["at"] = time.Now().UTC()
	if err := s.announcer.Announce(ctx, key, payload); err != nil {
		s.logger.Warnf(ctx, "failed to announce %s event: %v", key, err)
	}
}
