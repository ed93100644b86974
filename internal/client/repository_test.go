package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var clientRows = []string{
	"id", "client_id", "name", "notify_url", "public_key", "secret_hash",
	"active", "created_at", "updated_at",
}

func TestRepository_GetByClientID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM clients WHERE client_id = \$1`).
			WithArgs("client-01").
			WillReturnRows(sqlmock.NewRows(clientRows).AddRow(
				1, "client-01", "Toko Maju", "https://merchant.example/notify",
				"-----BEGIN RSA PUBLIC KEY-----", "$2a$10$hash", true, now, now,
			))

		c, err := repo.GetByClientID(ctx, "client-01")
		require.NoError(t, err)
		assert.Equal(t, "client-01", c.ClientID)
		assert.Equal(t, "https://merchant.example/notify", c.NotifyURL)
		assert.True(t, c.Active)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM clients WHERE client_id = \$1`).
			WithArgs("client-missing").
			WillReturnRows(sqlmock.NewRows(clientRows))

		_, err := repo.GetByClientID(ctx, "client-missing")
		assert.ErrorIs(t, err, ErrClientNotFound)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM clients WHERE client_id = \$1`).
			WithArgs("client-01").
			WillReturnError(errors.New("database error"))

		_, err := repo.GetByClientID(ctx, "client-01")
		assert.Error(t, err)
	})
}

func TestRepository_Authenticate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db)
	ctx := context.Background()
	now := time.Now()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	rows := func(active bool) *sqlmock.Rows {
		return sqlmock.NewRows(clientRows).AddRow(
			1, "client-01", "Toko Maju", "https://merchant.example/notify",
			"", string(hash), active, now, now,
		)
	}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM clients`).
			WithArgs("client-01").
			WillReturnRows(rows(true))

		c, err := repo.Authenticate(ctx, "client-01", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "client-01", c.ClientID)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM clients`).
			WithArgs("client-01").
			WillReturnRows(rows(true))

		_, err := repo.Authenticate(ctx, "client-01", "wrong")
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("Inactive", func(t *testing.T) {
		mock.ExpectQuery(`SELECT (.+) FROM clients`).
			WithArgs("client-01").
			WillReturnRows(rows(false))

		_, err := repo.Authenticate(ctx, "client-01", "s3cret")
		assert.ErrorIs(t, err, ErrClientInactive)
	})
}
