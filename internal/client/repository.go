package client

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

type Repository interface {
	GetByClientID(ctx context.Context, clientID string) (*Client, error)

	// Authenticate resolves an active client and checks its secret.
	Authenticate(ctx context.Context, clientID, secret string) (*Client, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByClientID(ctx context.Context, clientID string) (*Client, error) {
	query := `
		SELECT id, client_id, name, notify_url, public_key, secret_hash,
		       active, created_at, updated_at
		FROM clients
		WHERE client_id = $1
	`

	var c Client
	err := r.db.QueryRowContext(ctx, query, clientID).Scan(
		&c.ID,
		&c.ClientID,
		&c.Name,
		&c.NotifyURL,
		&c.PublicKey,
		&c.SecretHash,
		&c.Active,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}

	return &c, nil
}

func (r *repository) Authenticate(ctx context.Context, clientID, secret string) (*Client, error) {
	c, err := r.GetByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if !c.Active {
		return nil, ErrClientInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)); err != nil {
		return nil, ErrBadCredentials
	}

	return c, nil
}
