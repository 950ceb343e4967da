package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var sixty = decimal.NewFromInt(60)

// ToMinutes converts hours to whole minutes, rounding to the nearest minute.
func ToMinutes(hours decimal.Decimal) int64 {
	return hours.Mul(sixty).Round(0).IntPart()
}

// FromMinutes converts whole minutes to hours.
func FromMinutes(minutes int64) decimal.Decimal {
	return decimal.NewFromInt(minutes).Div(sixty)
}

// ParseClock parses an "HH:MM" wall-clock time into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Duration returns the hours between two "HH:MM" times on the same day.
// The result is negative or zero when end is not after start.
func Duration(start, end string) (decimal.Decimal, error) {
	s, err := ParseClock(start)
	if err != nil {
		return decimal.Zero, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return decimal.Zero, err
	}
	return FromMinutes(int64(e - s)), nil
}

// ParseDate validates a "YYYY-MM-DD" calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}
