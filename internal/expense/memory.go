package expense

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps expenses, merchants and categories in process memory.
// It backs STORE_BACKEND=memory and the orchestrator tests. It does not
// support transactions, so imports against it use compensating deletes.
type MemoryStore struct {
	mu         sync.RWMutex
	expenses   map[string]Expense
	merchants  map[string]Merchant
	categories map[string]Category
	now        func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		expenses:   make(map[string]Expense),
		merchants:  make(map[string]Merchant),
		categories: make(map[string]Category),
		now:        time.Now,
	}
}

// CreateExpense stores a new expense and returns it with its id.
func (m *MemoryStore) CreateExpense(ctx context.Context, userID string, in NewExpense) (*Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	e := Expense{
		ID:          uuid.NewString(),
		UserID:      userID,
		Date:        dateOnly(in.Date),
		Description: in.Description,
		Amount:      in.Amount,
		MerchantID:  in.MerchantID,
		Merchant:    in.Merchant,
		CategoryID:  in.CategoryID,
		Category:    in.Category,
		Account:     in.Account,
		Reference:   in.Reference,
		Notes:       in.Notes,
		ImportID:    in.ImportID,
		CreatedAt:   m.now().UTC(),
	}

	m.mu.Lock()
	m.expenses[e.ID] = e
	m.mu.Unlock()

	return &e, nil
}

// DeleteExpense removes an expense owned by userID.
func (m *MemoryStore) DeleteExpense(ctx context.Context, id, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.expenses[id]
	if !ok || e.UserID != userID {
		return false, nil
	}
	delete(m.expenses, id)
	return true, nil
}

// FindByDateRange returns the user's expenses dated within [start, end],
// ordered by date then id.
func (m *MemoryStore) FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, end = dateOnly(start), dateOnly(end)

	m.mu.RLock()
	var out []Expense
	for _, e := range m.expenses {
		if e.UserID != userID || e.Date.Before(start) || e.Date.After(end) {
			continue
		}
		out = append(out, e)
	}
	m.mu.RUnlock()

	sortExpenses(out)
	return out, nil
}

// Expenses returns every expense owned by userID.
func (m *MemoryStore) Expenses(userID string) []Expense {
	m.mu.RLock()
	var out []Expense
	for _, e := range m.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sortExpenses(out)
	return out
}

// AddCategory registers a category for userID and returns it.
func (m *MemoryStore) AddCategory(userID, name string) Category {
	c := Category{ID: uuid.NewString(), UserID: userID, Name: strings.TrimSpace(name)}

	m.mu.Lock()
	m.categories[userID+"\x00"+normalizeName(name)] = c
	m.mu.Unlock()

	return c
}

// Merchants returns the merchant view of the store.
func (m *MemoryStore) Merchants() *MemoryMerchants { return &MemoryMerchants{store: m} }

// Categories returns the category view of the store.
func (m *MemoryStore) Categories() *MemoryCategories { return &MemoryCategories{store: m} }

// MemoryMerchants resolves merchants held by a MemoryStore.
type MemoryMerchants struct {
	store *MemoryStore
}

// FindByName returns the merchant with a case-insensitive name match,
// or nil when there is none.
func (mm *MemoryMerchants) FindByName(ctx context.Context, name, userID string) (*Merchant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mm.store.mu.RLock()
	defer mm.store.mu.RUnlock()

	if merchant, ok := mm.store.merchants[userID+"\x00"+normalizeName(name)]; ok {
		return &merchant, nil
	}
	return nil, nil
}

// Create adds a merchant. Creating a name that already exists returns
// the existing merchant.
func (mm *MemoryMerchants) Create(ctx context.Context, userID, name, defaultCategory string) (*Merchant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := userID + "\x00" + normalizeName(name)

	mm.store.mu.Lock()
	defer mm.store.mu.Unlock()

	if existing, ok := mm.store.merchants[key]; ok {
		return &existing, nil
	}
	merchant := Merchant{
		ID:              uuid.NewString(),
		UserID:          userID,
		Name:            strings.TrimSpace(name),
		DefaultCategory: defaultCategory,
		CreatedAt:       mm.store.now().UTC(),
	}
	mm.store.merchants[key] = merchant
	return &merchant, nil
}

// MemoryCategories resolves categories held by a MemoryStore.
type MemoryCategories struct {
	store *MemoryStore
}

// FindByName returns the category with a case-insensitive name match,
// or nil when there is none.
func (mc *MemoryCategories) FindByName(ctx context.Context, name, userID string) (*Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mc.store.mu.RLock()
	defer mc.store.mu.RUnlock()

	if c, ok := mc.store.categories[userID+"\x00"+normalizeName(name)]; ok {
		return &c, nil
	}
	return nil, nil
}

func sortExpenses(list []Expense) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.Before(list[j].Date)
		}
		return list[i].ID < list[j].ID
	})
}
