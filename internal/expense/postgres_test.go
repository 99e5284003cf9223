package expense

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPostgres connects to TEST_DATABASE_URL or skips the test.
func newTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	user := "pg-roundtrip-" + t.Name()

	e, err := s.CreateExpense(ctx, user, NewExpense{
		Date:        day(6),
		Description: "Coffee Shop",
		Amount:      decimal.RequireFromString("-4.50"),
		Notes:       "imported",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = s.DeleteExpense(ctx, e.ID, user) })

	found, err := s.FindByDateRange(ctx, user, day(5), day(7))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Amount.Equal(decimal.RequireFromString("-4.50")))
	assert.Equal(t, day(6), found[0].Date)

	ok, err := s.DeleteExpense(ctx, e.ID, user)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.DeleteExpense(ctx, e.ID, user)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	user := "pg-tx-" + t.Name()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx Store) error {
		_, err := tx.CreateExpense(ctx, user, NewExpense{Date: day(1), Description: "kept?", Amount: decimal.NewFromInt(-1)})
		require.NoError(t, err)

		// A failed row only rolls back its own savepoint.
		_, err = tx.CreateExpense(ctx, user, NewExpense{Date: day(1), Description: "bad", Amount: decimal.RequireFromString("1e20")})
		assert.Error(t, err)

		return boom
	})
	assert.ErrorIs(t, err, boom)

	found, err := s.FindByDateRange(ctx, user, day(1), day(1))
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestPostgresMerchants(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgres(t)
	user := "pg-merchant-" + t.Name()
	merchants := s.Merchants()

	created, err := merchants.Create(ctx, user, "Lidl", "Groceries")
	require.NoError(t, err)

	again, err := merchants.Create(ctx, user, "LIDL", "")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	found, err := merchants.FindByName(ctx, "lidl", user)
	require.NoError(t, err)
	require.NotNil(t, found)

	missing, err := s.Categories().FindByName(ctx, "nothing", user)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
