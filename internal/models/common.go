package models

import (
	"fmt"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// BilingualText carries an English/Arabic label pair. Locale selection
// happens at formatting boundaries; records always store both.
type BilingualText struct {
	EN string `json:"en"`
	AR string `json:"ar"`
}

// In returns the text for the requested language, falling back to English.
func (t BilingualText) In(lang string) string {
	if lang == "ar" && t.AR != "" {
		return t.AR
	}
	return t.EN
}

// Pagination describes list response metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes derived pagination fields.
func NewPagination(page, size, total int) *Pagination {
	if size <= 0 {
		size = 20
	}
	pages := total / size
	if total%size != 0 {
		pages++
	}
	return &Pagination{Page: page, PageSize: size, Total: total, TotalPages: pages}
}

// FormatMinute renders a minute-of-day value as HH:MM.
func FormatMinute(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}

// ParseMinute parses HH:MM into a minute-of-day value.
func ParseMinute(raw string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(raw, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse time %q: %w", raw, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", raw)
	}
	return h*60 + m, nil
}

// DateOnly truncates a timestamp to midnight UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether two timestamps fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}
