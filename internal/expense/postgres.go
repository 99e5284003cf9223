package expense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// schemaStatements create the tables the import pipeline writes to.
// Each statement is idempotent so Migrate can run on every start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS merchants (
		id               TEXT PRIMARY KEY,
		user_id          TEXT NOT NULL,
		name             TEXT NOT NULL,
		name_key         TEXT NOT NULL,
		default_category TEXT NOT NULL DEFAULT '',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (user_id, name_key)
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		id       TEXT PRIMARY KEY,
		user_id  TEXT NOT NULL,
		name     TEXT NOT NULL,
		name_key TEXT NOT NULL,
		UNIQUE (user_id, name_key)
	)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		date        DATE NOT NULL,
		description TEXT NOT NULL,
		amount      NUMERIC(18, 4) NOT NULL,
		merchant_id TEXT REFERENCES merchants (id) ON DELETE SET NULL,
		merchant    TEXT NOT NULL DEFAULT '',
		category_id TEXT REFERENCES categories (id) ON DELETE SET NULL,
		category    TEXT NOT NULL DEFAULT '',
		account     TEXT NOT NULL DEFAULT '',
		reference   TEXT NOT NULL DEFAULT '',
		notes       TEXT NOT NULL DEFAULT '',
		import_id   TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS expenses_user_date_idx ON expenses (user_id, date)`,
	`CREATE INDEX IF NOT EXISTS expenses_import_idx ON expenses (import_id)`,
	// Databases created with two decimal places are widened in place.
	`ALTER TABLE expenses ALTER COLUMN amount TYPE NUMERIC(18, 4)`,
}

const expenseColumns = `id, user_id, date, description, amount::text, COALESCE(merchant_id, ''),
	merchant, COALESCE(category_id, ''), category, account, reference, notes, import_id, created_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists expenses in PostgreSQL. It implements Store and
// runs import batches in a single transaction through InTx.
type PostgresStore struct {
	pool *pgxpool.Pool
	q    queries
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: queries{db: pool}}
}

// Migrate creates missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateExpense inserts one expense.
func (s *PostgresStore) CreateExpense(ctx context.Context, userID string, in NewExpense) (*Expense, error) {
	return s.q.createExpense(ctx, userID, in)
}

// DeleteExpense removes one expense; false means it was already gone.
func (s *PostgresStore) DeleteExpense(ctx context.Context, id, userID string) (bool, error) {
	return s.q.deleteExpense(ctx, id, userID)
}

// FindByDateRange lists the user's expenses dated within [start, end].
func (s *PostgresStore) FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Expense, error) {
	return s.q.findByDateRange(ctx, userID, start, end)
}

// InTx runs fn inside one database transaction. Each CreateExpense made
// through the Store handed to fn is wrapped in its own savepoint, so a
// failed row rolls back alone while the rest of the batch continues.
// Returning an error from fn rolls back everything.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx, q: queries{db: tx}})
	})
}

// Merchants returns the merchant store sharing this pool.
func (s *PostgresStore) Merchants() *PostgresMerchants { return &PostgresMerchants{q: s.q} }

// Categories returns the category store sharing this pool.
func (s *PostgresStore) Categories() *PostgresCategories { return &PostgresCategories{q: s.q} }

// txStore is the Store view of an open transaction.
type txStore struct {
	tx  pgx.Tx
	q   queries
	seq int
}

func (t *txStore) CreateExpense(ctx context.Context, userID string, in NewExpense) (*Expense, error) {
	t.seq++
	savepoint := fmt.Sprintf("expense_%d", t.seq)

	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
		return nil, fmt.Errorf("create savepoint: %w", err)
	}

	e, err := t.q.createExpense(ctx, userID, in)
	if err != nil {
		_, _ = t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
		return nil, err
	}

	_, _ = t.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint)
	return e, nil
}

func (t *txStore) DeleteExpense(ctx context.Context, id, userID string) (bool, error) {
	return t.q.deleteExpense(ctx, id, userID)
}

func (t *txStore) FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Expense, error) {
	return t.q.findByDateRange(ctx, userID, start, end)
}

// PostgresMerchants resolves merchants in PostgreSQL.
type PostgresMerchants struct {
	q queries
}

// FindByName returns nil, nil when no merchant matches.
func (m *PostgresMerchants) FindByName(ctx context.Context, name, userID string) (*Merchant, error) {
	row := m.q.db.QueryRow(ctx, `
		SELECT id, user_id, name, default_category, created_at
		FROM merchants WHERE user_id = $1 AND name_key = $2`,
		userID, normalizeName(name))

	var merchant Merchant
	err := row.Scan(&merchant.ID, &merchant.UserID, &merchant.Name, &merchant.DefaultCategory, &merchant.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find merchant: %w", err)
	}
	return &merchant, nil
}

// Create inserts a merchant, returning the existing row on a name clash.
func (m *PostgresMerchants) Create(ctx context.Context, userID, name, defaultCategory string) (*Merchant, error) {
	row := m.q.db.QueryRow(ctx, `
		INSERT INTO merchants (id, user_id, name, name_key, default_category)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, name_key) DO UPDATE SET name = merchants.name
		RETURNING id, user_id, name, default_category, created_at`,
		uuid.NewString(), userID, strings.TrimSpace(name), normalizeName(name), defaultCategory)

	var merchant Merchant
	if err := row.Scan(&merchant.ID, &merchant.UserID, &merchant.Name, &merchant.DefaultCategory, &merchant.CreatedAt); err != nil {
		return nil, fmt.Errorf("create merchant: %w", err)
	}
	return &merchant, nil
}

// PostgresCategories resolves categories in PostgreSQL.
type PostgresCategories struct {
	q queries
}

// FindByName returns nil, nil when no category matches.
func (c *PostgresCategories) FindByName(ctx context.Context, name, userID string) (*Category, error) {
	row := c.q.db.QueryRow(ctx, `
		SELECT id, user_id, name FROM categories WHERE user_id = $1 AND name_key = $2`,
		userID, normalizeName(name))

	var category Category
	err := row.Scan(&category.ID, &category.UserID, &category.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find category: %w", err)
	}
	return &category, nil
}

// queries holds the SQL shared by the pool and transaction views.
type queries struct {
	db querier
}

func (q queries) createExpense(ctx context.Context, userID string, in NewExpense) (*Expense, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO expenses (id, user_id, date, description, amount, merchant_id, merchant,
			category_id, category, account, reference, notes, import_id)
		VALUES ($1, $2, $3, $4, $5::numeric, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10, $11, $12, $13)
		RETURNING `+expenseColumns,
		uuid.NewString(), userID, dateOnly(in.Date), in.Description, in.Amount.String(),
		in.MerchantID, in.Merchant, in.CategoryID, in.Category, in.Account, in.Reference,
		in.Notes, in.ImportID)

	e, err := scanExpense(row)
	if err != nil {
		return nil, fmt.Errorf("insert expense: %w", err)
	}
	return &e, nil
}

func (q queries) deleteExpense(ctx context.Context, id, userID string) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM expenses WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete expense: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (q queries) findByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Expense, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+expenseColumns+`
		FROM expenses
		WHERE user_id = $1 AND date BETWEEN $2 AND $3
		ORDER BY date, id`,
		userID, dateOnly(start), dateOnly(end))
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}

	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Expense, error) {
		return scanExpense(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan expenses: %w", err)
	}
	return list, nil
}

func scanExpense(row pgx.Row) (Expense, error) {
	var (
		e      Expense
		amount string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.Date, &e.Description, &amount, &e.MerchantID,
		&e.Merchant, &e.CategoryID, &e.Category, &e.Account, &e.Reference, &e.Notes,
		&e.ImportID, &e.CreatedAt)
	if err != nil {
		return Expense{}, err
	}

	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Expense{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	e.Date = dateOnly(e.Date)
	return e, nil
}
