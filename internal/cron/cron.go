// Package cron wraps gronx cron-expression evaluation for the scheduler
// and the scheduling tool.
package cron

import (
	"time"

	"github.com/adhocore/gronx"
)

var parser = gronx.New()

// Valid reports whether expr is a parseable cron expression.
func Valid(expr string) bool {
	return parser.IsValid(expr)
}

// Next computes the next matching instant strictly after ref.
// Returns nil for an empty or invalid expression: a bad user-supplied
// cron must disable the task, never crash the scheduler loop.
func Next(expr string, ref time.Time) *time.Time {
	if expr == "" || !parser.IsValid(expr) {
		return nil
	}
	next, err := gronx.NextTickAfter(expr, ref, false)
	if err != nil {
		return nil
	}
	return &next
}
