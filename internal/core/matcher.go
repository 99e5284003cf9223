package core

// matcher.go scores parsed transactions against existing expenses.
//
// Scores are accumulated in integer hundredths so threshold comparisons
// are exact:
//
//	amount       exact 40, within 1.00 20
//	date         same day 30, one day apart 20, within 3 days 10
//	description  similarity >0.8 20, >0.6 15, >0.4 10
//	merchant     substring match 10
//
// Only matches above 50 are kept, best five first. A best score above 80
// marks the transaction as a likely duplicate.

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/frno10/ExpenseTracker-sub000/internal/expense"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
	"github.com/shopspring/decimal"
)

const (
	// MatchWindowDays bounds the expense search around a transaction date.
	MatchWindowDays = 3

	// MaxMatches is how many candidate expenses are reported per transaction.
	MaxMatches = 5

	minMatchScore     = 50
	duplicateScore    = 80
	maxScore          = 100
	confidenceWeight  = 0.8
	amountExactScore  = 40
	amountNearScore   = 20
	sameDayScore      = 30
	adjacentDayScore  = 20
	windowDayScore    = 10
	merchantScore     = 10
	scoreDenominator  = 100.0
	confidenceRounder = 10000.0
)

var amountTolerance = decimal.NewFromInt(1)

// Matcher finds existing expenses that resemble parsed transactions.
type Matcher struct {
	expenses ExpenseStore
}

// NewMatcher returns a matcher reading from store.
func NewMatcher(store ExpenseStore) *Matcher {
	return &Matcher{expenses: store}
}

// FindMatches returns the expenses resembling tx, best first.
func (m *Matcher) FindMatches(ctx context.Context, userID string, tx parser.ParsedTransaction) ([]DuplicateMatch, error) {
	start, end := matchWindow(tx.Date, tx.Date)
	candidates, err := m.expenses.FindByDateRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}
	return rankMatches(tx, candidates), nil
}

// Analyze scores the transactions at indices. Candidate expenses are read
// with one lookup spanning every selected date.
func (m *Matcher) Analyze(ctx context.Context, userID string, txs []parser.ParsedTransaction, indices []int) ([]TransactionMatch, error) {
	out := make([]TransactionMatch, 0, len(indices))
	if len(indices) == 0 {
		return out, nil
	}

	first, last := txs[indices[0]].Date, txs[indices[0]].Date
	for _, idx := range indices[1:] {
		d := txs[idx].Date
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}

	start, end := matchWindow(first, last)
	candidates, err := m.expenses.FindByDateRange(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup: %w", err)
	}

	for _, idx := range indices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx := txs[idx]
		ws, we := matchWindow(tx.Date, tx.Date)

		var inWindow []expense.Expense
		for _, e := range candidates {
			d := dateOnly(e.Date)
			if !d.Before(ws) && !d.After(we) {
				inWindow = append(inWindow, e)
			}
		}
		out = append(out, newTransactionMatch(idx, tx, rankMatches(tx, inWindow)))
	}
	return out, nil
}

func newTransactionMatch(idx int, tx parser.ParsedTransaction, matches []DuplicateMatch) TransactionMatch {
	best := 0.0
	if len(matches) > 0 {
		best = matches[0].Score
	}
	if matches == nil {
		matches = []DuplicateMatch{}
	}
	return TransactionMatch{
		Index:             idx,
		Transaction:       tx,
		Matches:           matches,
		IsLikelyDuplicate: int(math.Round(best*scoreDenominator)) > duplicateScore,
		ConfidenceScore:   math.Round((1-best*confidenceWeight)*confidenceRounder) / confidenceRounder,
	}
}

// rankMatches keeps candidates scoring above the minimum, best first,
// ties broken by expense id.
func rankMatches(tx parser.ParsedTransaction, candidates []expense.Expense) []DuplicateMatch {
	type scored struct {
		id      string
		points  int
		reasons []string
	}

	var kept []scored
	for _, e := range candidates {
		points, reasons := scorePoints(tx, e)
		if points > minMatchScore {
			kept = append(kept, scored{id: e.ID, points: points, reasons: reasons})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].points != kept[j].points {
			return kept[i].points > kept[j].points
		}
		return kept[i].id < kept[j].id
	})
	if len(kept) > MaxMatches {
		kept = kept[:MaxMatches]
	}

	var out []DuplicateMatch
	for _, k := range kept {
		out = append(out, DuplicateMatch{
			ExpenseID: k.id,
			Score:     float64(k.points) / scoreDenominator,
			Reasons:   k.reasons,
		})
	}
	return out
}

// Score rates how closely e resembles tx, in [0, 1], with the reasons that
// contributed.
func Score(tx parser.ParsedTransaction, e expense.Expense) (float64, []string) {
	points, reasons := scorePoints(tx, e)
	return float64(points) / scoreDenominator, reasons
}

func scorePoints(tx parser.ParsedTransaction, e expense.Expense) (int, []string) {
	points := 0
	var reasons []string

	diff := tx.Amount.Sub(e.Amount).Abs()
	switch {
	case diff.IsZero():
		points += amountExactScore
		reasons = append(reasons, "exact amount match")
	case diff.LessThanOrEqual(amountTolerance):
		points += amountNearScore
		reasons = append(reasons, "similar amount")
	}

	switch days := daysApart(tx.Date, e.Date); {
	case days == 0:
		points += sameDayScore
		reasons = append(reasons, "same date")
	case days == 1:
		points += adjacentDayScore
		reasons = append(reasons, "adjacent date")
	case days <= MatchWindowDays:
		points += windowDayScore
		reasons = append(reasons, fmt.Sprintf("date within %d days", MatchWindowDays))
	}

	sim := DescriptionSimilarity(tx.Description, e.Description)
	if pts := similarityPoints(sim); pts > 0 {
		points += pts
		reasons = append(reasons, fmt.Sprintf("similar description (%.2f)", sim))
	}

	if merchantMatches(tx.Merchant, e) {
		points += merchantScore
		reasons = append(reasons, "merchant match")
	}

	if points > maxScore {
		points = maxScore
	}
	return points, reasons
}

func similarityPoints(sim float64) int {
	switch {
	case sim > 0.8:
		return 20
	case sim > 0.6:
		return 15
	case sim > 0.4:
		return 10
	}
	return 0
}

// merchantMatches reports whether the parsed merchant appears in the
// expense's merchant or description. An empty parsed merchant never matches.
func merchantMatches(merchant string, e expense.Expense) bool {
	m := strings.ToLower(strings.TrimSpace(merchant))
	if m == "" {
		return false
	}
	if em := strings.ToLower(strings.TrimSpace(e.Merchant)); em != "" {
		if strings.Contains(em, m) || strings.Contains(m, em) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(e.Description), m)
}

// DescriptionSimilarity is the Jaccard similarity of the case-folded
// character sets of a and b, ignoring whitespace. Two empty strings score 0.
func DescriptionSimilarity(a, b string) float64 {
	sa, sb := charSet(a), charSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	shared := 0
	for r := range sa {
		if sb[r] {
			shared++
		}
	}
	union := len(sa) + len(sb) - shared
	return float64(shared) / float64(union)
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool)
	for _, r := range strings.ToLower(s) {
		if !unicode.IsSpace(r) {
			set[r] = true
		}
	}
	return set
}

// matchWindow widens [first, last] by MatchWindowDays on both sides.
func matchWindow(first, last time.Time) (time.Time, time.Time) {
	return dateOnly(first).AddDate(0, 0, -MatchWindowDays), dateOnly(last).AddDate(0, 0, MatchWindowDays)
}

func daysApart(a, b time.Time) int {
	hours := dateOnly(a).Sub(dateOnly(b)).Hours()
	return int(math.Abs(math.Round(hours / 24)))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
