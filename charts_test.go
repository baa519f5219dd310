package main

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"

	"tableqa/internal/engine"
)

func TestBarChart(t *testing.T) {
	tests := []struct {
		name       string
		value, max float64
		wantFilled int
		wantSuffix string
	}{
		{"half", 5, 10, 5, " 5"},
		{"full", 10, 10, 10, " 10"},
		{"over max clamps", 20, 10, 10, " 20"},
		{"zero max uses value", 3, 0, 10, " 3"},
		{"fractional", 2.5, 10, 2, " 2.50"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := BarChart("x", tc.value, tc.max, 10, lipgloss.Color("62"))
			if n := strings.Count(got, "█"); n != tc.wantFilled {
				t.Errorf("filled = %d, want %d (%q)", n, tc.wantFilled, got)
			}
			if !strings.HasSuffix(got, tc.wantSuffix) {
				t.Errorf("BarChart() = %q, want suffix %q", got, tc.wantSuffix)
			}
		})
	}
}

func TestSparkline(t *testing.T) {
	if got := Sparkline(nil); got != "" {
		t.Errorf("Sparkline(nil) = %q", got)
	}
	if got := Sparkline([]float64{1, 2, 3, 4, 5, 6, 7, 8}); got != "▁▂▃▄▅▆▇█" {
		t.Errorf("Sparkline() = %q", got)
	}
	if got := Sparkline([]float64{4, 4}); got != "▅▅" {
		t.Errorf("flat Sparkline() = %q", got)
	}
}

func TestResultChart(t *testing.T) {
	t.Run("nothing to draw", func(t *testing.T) {
		for _, res := range []*engine.Result{
			nil,
			{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}},
			{Columns: []string{"a", "b"}, Rows: [][]any{{"x", "y"}, {"z", "w"}}},
		} {
			if got := ResultChart(res, 10); got != "" {
				t.Errorf("ResultChart(%v) = %q, want empty", res, got)
			}
		}
	})

	t.Run("bars labelled by first text column", func(t *testing.T) {
		res := &engine.Result{
			Columns: []string{"station", "rides"},
			Rows:    [][]any{{"W 21 St", int64(4)}, {"Broadway", int64(2)}},
		}
		got := ResultChart(res, 10)
		lines := strings.Split(got, "\n")
		if len(lines) != 3 {
			t.Fatalf("ResultChart() has %d lines:\n%s", len(lines), got)
		}
		if !strings.Contains(lines[0], "rides") {
			t.Errorf("title line = %q", lines[0])
		}
		if !strings.HasPrefix(lines[1], "W 21 St ") || strings.Count(lines[1], "█") != 10 {
			t.Errorf("first bar = %q", lines[1])
		}
		if !strings.HasPrefix(lines[2], "Broadway") || strings.Count(lines[2], "█") != 5 {
			t.Errorf("second bar = %q", lines[2])
		}
	})

	t.Run("long results use a sparkline", func(t *testing.T) {
		res := &engine.Result{Columns: []string{"minute", "trips"}}
		for i := 0; i < 30; i++ {
			res.Rows = append(res.Rows, []any{int64(i), float64(i % 5)})
		}
		got := ResultChart(res, 10)
		if !strings.Contains(got, "minute") || !strings.Contains(got, "0..29") {
			t.Errorf("ResultChart() = %q", got)
		}
	})
}
