package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2026-03-05", date(2026, time.March, 5), true},
		{"March 5, 2026", date(2026, time.March, 5), true},
		{"March 5 2026", date(2026, time.March, 5), true},
		{"March 5 ,2026", date(2026, time.March, 5), true},
		{"Mar 5, 2026", date(2026, time.March, 5), true},
		{"  Mar   5  2026 ", date(2026, time.March, 5), true},
		{"3/5/2026", date(2026, time.March, 5), true},
		{"03/05/2026", date(2026, time.March, 5), true},
		{"3-5-2026", date(2026, time.March, 5), true},
		{"25/12/2026", date(2026, time.December, 25), true},
		{"3/5/26", date(2026, time.March, 5), true},
		{"31/31/2026", time.Time{}, false},
		{"yesterday", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDaysBetween(t *testing.T) {
	today := time.Date(2026, time.March, 10, 18, 30, 0, 0, time.UTC)

	assert.Equal(t, 3, DaysBetween(today, date(2026, time.March, 13)))
	assert.Equal(t, 0, DaysBetween(today, date(2026, time.March, 10)))
	assert.Equal(t, -1, DaysBetween(today, date(2026, time.March, 9)))
	assert.Equal(t, 22, DaysBetween(today, date(2026, time.April, 1)))
}
