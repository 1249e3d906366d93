package scraper

import (
	"context"
	"time"
)

type budgetKey struct{}

// WithBudget returns a context carrying an advisory wall-clock deadline
// for traversal. Unlike a context deadline it never cancels in-flight
// requests: loops consult it between pages and categories and stop
// starting new work once it has passed, letting what is already running
// finish.
func WithBudget(ctx context.Context, deadline time.Time) context.Context {
	return context.WithValue(ctx, budgetKey{}, deadline)
}

// BudgetExpired reports whether the context carries a budget deadline
// that has already passed
func BudgetExpired(ctx context.Context) bool {
	deadline, ok := ctx.Value(budgetKey{}).(time.Time)
	return ok && time.Now().After(deadline)
}
