package cron

import (
	"testing"
	"time"
)

func TestValid(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"0 9 * * *", true},
		{"*/5 * * * *", true},
		{"0 0 1 1 *", true},
		{"@daily", true},
		{"not a cron", false},
		{"0 25 * * *", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.expr); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestNext(t *testing.T) {
	ref := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)

	next := Next("0 9 * * *", ref)
	if next == nil {
		t.Fatal("Next returned nil for valid expression")
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}

	if got := Next("garbage", ref); got != nil {
		t.Errorf("Next for invalid expression = %v, want nil", got)
	}
	if got := Next("", ref); got != nil {
		t.Errorf("Next for empty expression = %v, want nil", got)
	}
}
