package tui

import (
	"fmt"
	"strings"
)

const (
	filledChar = "■"
	emptyChar  = "□"
)

// ProgressBar renders settled progress like: ■■■■□□□□ 50%
type ProgressBar struct {
	Current int
	Total   int
	Width   int // character width of the bar portion
}

func (p ProgressBar) View() string {
	if p.Total <= 0 || p.Width <= 0 {
		return ""
	}

	current := p.Current
	if current < 0 {
		current = 0
	}
	if current > p.Total {
		current = p.Total
	}

	percent := (current * 100) / p.Total
	filled := (current * p.Width) / p.Total
	bar := strings.Repeat(filledChar, filled) + strings.Repeat(emptyChar, p.Width-filled)

	return fmt.Sprintf("%s %d%%", bar, percent)
}
