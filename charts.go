package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"tableqa/internal/engine"
	"tableqa/internal/mdtable"
)

const (
	maxBarRows    = 20
	maxLabelWidth = 18
)

// BarChart creates a horizontal bar chart
func BarChart(label string, value, max float64, width int, color lipgloss.Color) string {
	if max == 0 {
		max = value
	}

	percentage := 0.0
	if max != 0 {
		percentage = value / max
	}
	if percentage > 1 {
		percentage = 1
	}

	filledWidth := int(float64(width) * percentage)
	if filledWidth < 0 {
		filledWidth = 0
	}
	if filledWidth > width {
		filledWidth = width
	}

	filled := strings.Repeat("█", filledWidth)
	empty := strings.Repeat("░", width-filledWidth)

	barStyle := lipgloss.NewStyle().Foreground(color)
	emptyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	return fmt.Sprintf("%s %s%s %s",
		label,
		barStyle.Render(filled),
		emptyStyle.Render(empty),
		formatNumber(value),
	)
}

// Sparkline creates a simple sparkline from values
func Sparkline(values []float64) string {
	if len(values) == 0 {
		return ""
	}

	min, max := values[0], values[0]
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	// Sparkline characters from bottom to top
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	var result strings.Builder
	for _, v := range values {
		var idx int
		if max == min {
			idx = len(chars) / 2
		} else {
			normalized := (v - min) / (max - min)
			idx = int(normalized * float64(len(chars)-1))
		}
		result.WriteRune(chars[idx])
	}

	return result.String()
}

// ResultChart draws the first numeric column of res: one bar per row for
// short results, a sparkline for long ones. Rows are labelled by the first
// non-numeric column. It returns "" when there is nothing worth drawing.
func ResultChart(res *engine.Result, width int) string {
	if res == nil || len(res.Rows) < 2 {
		return ""
	}
	valueCol, labelCol := chartColumns(res)
	if valueCol < 0 {
		return ""
	}

	values := make([]float64, len(res.Rows))
	for i, row := range res.Rows {
		values[i], _ = toFloat(row[valueCol])
	}

	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	title := titleStyle.Render(res.Columns[valueCol])

	if len(values) > maxBarRows {
		lo, hi := values[0], values[0]
		for _, v := range values {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		return fmt.Sprintf("%s\n%s  %s..%s", title, Sparkline(values), formatNumber(lo), formatNumber(hi))
	}

	labels := make([]string, len(res.Rows))
	labelWidth := 0
	for i, row := range res.Rows {
		label := fmt.Sprintf("#%d", i+1)
		if labelCol >= 0 {
			label = mdtable.FormatValue(row[labelCol])
		}
		if r := []rune(label); len(r) > maxLabelWidth {
			label = string(r[:maxLabelWidth-1]) + "…"
		}
		labels[i] = label
		labelWidth = max(labelWidth, lipgloss.Width(label))
	}

	top := 0.0
	for _, v := range values {
		top = math.Max(top, v)
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n")
	for i, v := range values {
		label := labels[i] + strings.Repeat(" ", labelWidth-lipgloss.Width(labels[i]))
		b.WriteString(BarChart(label, v, top, width, lipgloss.Color("62")))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// chartColumns picks the first column whose values are all numeric and the
// first column that is not. Either is -1 when absent.
func chartColumns(res *engine.Result) (value, label int) {
	value, label = -1, -1
	for c := range res.Columns {
		numeric := true
		for _, row := range res.Rows {
			if _, ok := toFloat(row[c]); !ok {
				numeric = false
				break
			}
		}
		switch {
		case numeric && value < 0:
			value = c
		case !numeric && label < 0:
			label = c
		}
	}
	return value, label
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
