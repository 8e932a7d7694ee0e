package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository reads and writes credential records in Postgres. It expects an
// accounts table with columns id, email, password_hash, created_at,
// updated_at, password_changed_at, deactivated_at.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new credential record. Emails are normalized to lower
// case; a unique-constraint collision surfaces as ErrDuplicateEmail.
func (r *Repository) Create(ctx context.Context, email, passwordHash string) (Account, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, fmt.Errorf("generate account id: %w", err)
	}

	now := time.Now().UTC()
	acct := Account{
		ID:                id.String(),
		Email:             strings.ToLower(strings.TrimSpace(email)),
		PasswordHash:      passwordHash,
		CreatedAt:         now,
		UpdatedAt:         now,
		PasswordChangedAt: now,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, created_at, updated_at, password_changed_at)
		VALUES ($1, $2, $3, $4, $4, $4)
	`, acct.ID, acct.Email, acct.PasswordHash, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Account{}, ErrDuplicateEmail
		}
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return acct, nil
}

// GetByEmail loads the record for an identity key.
func (r *Repository) GetByEmail(ctx context.Context, email string) (Account, error) {
	return r.get(ctx, `
		SELECT id, email, password_hash, created_at, updated_at, password_changed_at, deactivated_at
		FROM accounts
		WHERE email = $1
	`, strings.ToLower(strings.TrimSpace(email)))
}

// GetByID loads the record for an account id.
func (r *Repository) GetByID(ctx context.Context, id string) (Account, error) {
	return r.get(ctx, `
		SELECT id, email, password_hash, created_at, updated_at, password_changed_at, deactivated_at
		FROM accounts
		WHERE id = $1
	`, id)
}

func (r *Repository) get(ctx context.Context, query, arg string) (Account, error) {
	var (
		acct          Account
		deactivatedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&acct.ID,
		&acct.Email,
		&acct.PasswordHash,
		&acct.CreatedAt,
		&acct.UpdatedAt,
		&acct.PasswordChangedAt,
		&deactivatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("query account: %w", err)
	}
	if deactivatedAt.Valid {
		value := deactivatedAt.Time.UTC()
		acct.DeactivatedAt = &value
	}
	return acct, nil
}

// UpdatePasswordHash rewrites the hash and stamps password_changed_at.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id, passwordHash string, changedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = $3, updated_at = $3
		WHERE id = $1 AND deactivated_at IS NULL
	`, id, passwordHash, changedAt.UTC())
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return requireRow(res)
}

// Deactivate marks the account unusable. Records are never deleted.
func (r *Repository) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET deactivated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deactivated_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
