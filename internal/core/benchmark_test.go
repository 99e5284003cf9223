package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/frno10/ExpenseTracker-sub000/internal/expense"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

// ============================================================================
// Matcher Benchmarks
// ============================================================================

// BenchmarkScore benchmarks scoring one transaction against one expense.
// This runs once per candidate in every duplicate analysis.
func BenchmarkScore(b *testing.B) {
	t := tx(6, "CARD PAYMENT COFFEE SHOP 1234", "-4.50")
	e := exp("e1", 5, "Coffee Shop", "-4.50")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Score(t, e)
	}
}

// BenchmarkDescriptionSimilarity benchmarks the character-set comparison.
func BenchmarkDescriptionSimilarity(b *testing.B) {
	pairs := [][2]string{
		{"Coffee Shop", "COFFEE SHOP"},
		{"AMAZON MKTPLACE PMTS AMZN.COM/BILL", "Amazon"},
		{"Salary", "Coffee Shop"},
		{"", "Rent"},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range pairs {
			DescriptionSimilarity(p[0], p[1])
		}
	}
}

// BenchmarkAnalyze benchmarks a month-long statement against a month of
// existing expenses.
func BenchmarkAnalyze(b *testing.B) {
	for _, rows := range []int{30, 300} {
		b.Run(fmt.Sprintf("rows=%d", rows), func(b *testing.B) {
			store := expense.NewMemoryStore()
			ctx := context.Background()
			txs := make([]parser.ParsedTransaction, rows)
			indices := make([]int, rows)
			for i := range txs {
				day := i%28 + 1
				txs[i] = tx(day, fmt.Sprintf("Merchant %d", i%40), fmt.Sprintf("-%d.%02d", i%90+1, i%100))
				indices[i] = i
				if _, err := store.CreateExpense(ctx, "u1", expense.NewExpense{
					Date:        jan(day),
					Description: txs[i].Description,
					Amount:      txs[i].Amount,
				}); err != nil {
					b.Fatal(err)
				}
			}
			m := NewMatcher(store)

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := m.Analyze(ctx, "u1", txs, indices); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// ============================================================================
// Parallel Benchmarks
// ============================================================================

// BenchmarkScoreParallel benchmarks scoring under concurrent imports.
func BenchmarkScoreParallel(b *testing.B) {
	t := tx(6, "Coffee Shop", "-4.50")
	e := exp("e1", 6, "Coffee Shop", "-4.50")

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			Score(t, e)
		}
	})
}

// BenchmarkKeyedMutex benchmarks lock churn across many uploads.
func BenchmarkKeyedMutex(b *testing.B) {
	k := newKeyedMutex()

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			unlock := k.Lock(fmt.Sprintf("upload-%d", i%64))
			unlock()
			i++
		}
	})
}
