package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/everstory/authcore/auth/structs"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	username      TEXT UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL DEFAULT 'USER',
	bio           TEXT NOT NULL DEFAULT '',
	location      TEXT NOT NULL DEFAULT '',
	website       TEXT NOT NULL DEFAULT '',
	profile_pic   TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pending_users (
	id            BIGSERIAL PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates the identity tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate identity schema: %w", err)
	}
	return nil
}

// NewPostgresRepositories returns the postgres implementations of the user
// and pending-user stores sharing one connection pool.
func NewPostgresRepositories(db *sql.DB) (UserRepository, PendingRepository) {
	return &userRepository{db: db}, &pendingRepository{db: db}
}

type userRepository struct {
	db *sql.DB
}

const userColumns = `id, name, COALESCE(username, ''), email, password_hash, role, bio, location, website, profile_pic, created_at, updated_at`

func scanUser(row *sql.Row) (*structs.User, error) {
	var u structs.User
	err := row.Scan(&u.ID, &u.Name, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&u.Bio, &u.Location, &u.Website, &u.ProfilePic, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) FindByEmail(ctx context.Context, email string) (*structs.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (r *userRepository) FindByID(ctx context.Context, id int64) (*structs.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *userRepository) Promote(ctx context.Context, pending *structs.PendingUser) (*structs.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin promotion: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5) RETURNING id`,
		pending.Name, pending.Email, pending.PasswordHash, structs.RoleUser, now).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to promote pending user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_users WHERE email = $1`, pending.Email); err != nil {
		return nil, fmt.Errorf("failed to remove pending user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to commit promotion: %w", err)
	}

	return &structs.User{
		ID:           id,
		Name:         pending.Name,
		Email:        pending.Email,
		PasswordHash: pending.PasswordHash,
		Role:         structs.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

type pendingRepository struct {
	db *sql.DB
}

func (r *pendingRepository) Create(ctx context.Context, pending *structs.PendingUser) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO pending_users (name, email, password_hash)
		 VALUES ($1, $2, $3) RETURNING id, created_at`,
		pending.Name, pending.Email, pending.PasswordHash).Scan(&pending.ID, &pending.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create pending user: %w", err)
	}
	return nil
}

func (r *pendingRepository) FindByEmail(ctx context.Context, email string) (*structs.PendingUser, error) {
	var p structs.PendingUser
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, created_at FROM pending_users WHERE email = $1`,
		email).Scan(&p.ID, &p.Name, &p.Email, &p.PasswordHash, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending user: %w", err)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
