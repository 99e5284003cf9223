package core

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/frno10/ExpenseTracker-sub000/internal/expense"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
	"github.com/shopspring/decimal"
)

func jan(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func tx(d int, desc, amount string) parser.ParsedTransaction {
	return parser.ParsedTransaction{Date: jan(d), Description: desc, Amount: decimal.RequireFromString(amount)}
}

func exp(id string, d int, desc, amount string) expense.Expense {
	return expense.Expense{ID: id, UserID: "u1", Date: jan(d), Description: desc, Amount: decimal.RequireFromString(amount)}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScore(t *testing.T) {
	coffee := exp("e1", 6, "Coffee Shop", "-4.50")

	tests := []struct {
		name     string
		tx       parser.ParsedTransaction
		merchant string
		want     float64
	}{
		{"identical row", tx(6, "Coffee Shop", "-4.50"), "", 0.9},
		{"identical row with merchant", tx(6, "Coffee Shop", "-4.50"), "coffee", 1.0},
		{"adjacent day", tx(5, "Coffee Shop", "-4.50"), "", 0.8},
		{"amount within one", tx(6, "Coffee Shop", "-5.25"), "", 0.7},
		{"amount off by more than one", tx(6, "Coffee Shop", "-6.00"), "", 0.5},
		{"three days apart", tx(3, "Coffee Shop", "-4.50"), "", 0.7},
		{"four days apart", tx(2, "Coffee Shop", "-4.50"), "", 0.6},
		{"different description", tx(6, "Rent", "-4.50"), "", 0.7},
		{"opposite sign", tx(6, "Coffee Shop", "4.50"), "", 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.tx
			in.Merchant = tt.merchant
			got, reasons := Score(in, coffee)
			if !approx(got, tt.want) {
				t.Errorf("Score = %v, want %v (reasons %v)", got, tt.want, reasons)
			}
		})
	}
}

func TestScore_MerchantRequiresParsedMerchant(t *testing.T) {
	e := exp("e1", 6, "Coffee Shop", "-4.50")
	e.Merchant = "Coffee Shop"

	withoutMerchant, _ := Score(tx(6, "Coffee Shop", "-4.50"), e)
	if !approx(withoutMerchant, 0.9) {
		t.Errorf("empty merchant scored %v, want 0.9", withoutMerchant)
	}

	in := tx(6, "Coffee Shop", "-4.50")
	in.Merchant = "COFFEE SHOP"
	withMerchant, reasons := Score(in, e)
	if !approx(withMerchant, 1.0) {
		t.Errorf("matching merchant scored %v, want 1.0", withMerchant)
	}
	if reasons[len(reasons)-1] != "merchant match" {
		t.Errorf("reasons = %v, want merchant match last", reasons)
	}
}

func TestDescriptionSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"Coffee Shop", "coffee shop", 1},
		{"abc", "abd", 0.5},
		{"ab", "cd", 0},
		{"", "", 0},
		{"abc", "", 0},
		{"a b c", "abc", 1},
	}
	for _, tt := range tests {
		if got := DescriptionSimilarity(tt.a, tt.b); !approx(got, tt.want) {
			t.Errorf("DescriptionSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// Similarity thresholds are strict: landing exactly on a boundary earns the
// lower tier.
func TestSimilarityPoints_Boundaries(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"abcd", "abcde", 15},   // 0.8
		{"abc", "abcde", 10},    // 0.6
		{"ab", "abcde", 0},      // 0.4
		{"abcde", "abcdef", 20}, // 0.833
	}
	for _, tt := range tests {
		sim := DescriptionSimilarity(tt.a, tt.b)
		if got := similarityPoints(sim); got != tt.want {
			t.Errorf("similarityPoints(%v) for %q/%q = %d, want %d", sim, tt.a, tt.b, got, tt.want)
		}
	}
}

// Moving any single signal closer never lowers the score.
func TestScore_Monotonic(t *testing.T) {
	base := exp("e1", 10, "Grocery Store", "-20.00")

	amounts := []string{"-25.00", "-21.00", "-20.50", "-20.00"}
	prev := -1.0
	for _, a := range amounts {
		got, _ := Score(tx(10, "Grocery Store", a), base)
		if got < prev {
			t.Errorf("amount %s scored %v, lower than %v", a, got, prev)
		}
		prev = got
	}

	days := []int{14, 13, 12, 11, 10}
	prev = -1.0
	for _, d := range days {
		got, _ := Score(tx(d, "Grocery Store", "-20.00"), base)
		if got < prev {
			t.Errorf("day %d scored %v, lower than %v", d, got, prev)
		}
		prev = got
	}

	prevPoints := -1
	for sim := 0.0; sim <= 1.0; sim += 0.01 {
		got := similarityPoints(sim)
		if got < prevPoints {
			t.Errorf("similarity %v earned %d, lower than %d", sim, got, prevPoints)
		}
		prevPoints = got
	}
}

func TestMatcher_Analyze(t *testing.T) {
	ctx := context.Background()
	store := expense.NewMemoryStore()
	existing, err := store.CreateExpense(ctx, "u1", expense.NewExpense{
		Date: jan(6), Description: "Coffee Shop", Amount: decimal.RequireFromString("-4.50"),
	})
	if err != nil {
		t.Fatal(err)
	}

	txs := []parser.ParsedTransaction{
		tx(5, "Coffee Shop", "-4.50"),
		tx(6, "Salary", "2000.00"),
		tx(6, "Coffee Shop", "-4.50"),
		tx(20, "Coffee Shop", "-4.50"),
	}

	got, err := NewMatcher(store).Analyze(ctx, "u1", txs, []int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d results, want 4", len(got))
	}

	// Adjacent day scores exactly 0.8, which is not above the threshold.
	if got[0].IsLikelyDuplicate || len(got[0].Matches) != 1 || !approx(got[0].Matches[0].Score, 0.8) {
		t.Errorf("row 0 = %+v, want one 0.8 match, not a duplicate", got[0])
	}
	if !approx(got[0].ConfidenceScore, 0.36) {
		t.Errorf("row 0 confidence = %v, want 0.36", got[0].ConfidenceScore)
	}

	if got[1].IsLikelyDuplicate || len(got[1].Matches) != 0 || !approx(got[1].ConfidenceScore, 1) {
		t.Errorf("row 1 = %+v, want no matches and confidence 1", got[1])
	}

	if !got[2].IsLikelyDuplicate || got[2].Matches[0].ExpenseID != existing.ID {
		t.Errorf("row 2 = %+v, want duplicate of %s", got[2], existing.ID)
	}
	if !approx(got[2].ConfidenceScore, 0.28) {
		t.Errorf("row 2 confidence = %v, want 0.28", got[2].ConfidenceScore)
	}

	if len(got[3].Matches) != 0 {
		t.Errorf("row 3 outside the window matched %+v", got[3].Matches)
	}
}

func TestMatcher_TopFiveByScore(t *testing.T) {
	ctx := context.Background()
	store := expense.NewMemoryStore()
	for i := 0; i < 7; i++ {
		if _, err := store.CreateExpense(ctx, "u1", expense.NewExpense{
			Date: jan(6), Description: "Coffee Shop", Amount: decimal.RequireFromString("-4.50"),
		}); err != nil {
			t.Fatal(err)
		}
	}

	matches, err := NewMatcher(store).FindMatches(ctx, "u1", tx(6, "Coffee Shop", "-4.50"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != MaxMatches {
		t.Fatalf("got %d matches, want %d", len(matches), MaxMatches)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].Score > matches[i-1].Score {
			t.Errorf("matches not sorted by score: %+v", matches)
		}
		if matches[i].Score == matches[i-1].Score && matches[i].ExpenseID < matches[i-1].ExpenseID {
			t.Errorf("ties not ordered by id: %+v", matches)
		}
	}
}

type failingExpenses struct {
	ExpenseStore
}

func (failingExpenses) FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]expense.Expense, error) {
	return nil, errors.New("connection refused")
}

func TestMatcher_LookupError(t *testing.T) {
	_, err := NewMatcher(failingExpenses{}).Analyze(context.Background(), "u1", []parser.ParsedTransaction{tx(1, "x", "1")}, []int{0})
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := err.Error(); got != "duplicate lookup: connection refused" {
		t.Errorf("error = %q", got)
	}
}
