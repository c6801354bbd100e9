package clinic

import (
	"regexp"
	"strings"
	"time"
)

// DefaultHorizonDays is how far ahead a booking date may fall.
const DefaultHorizonDays = 180

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{9,14}$`)
	phoneStrip   = strings.NewReplacer(" ", "", "\t", "", "-", "", "(", "", ")", "")
)

// ValidEmail checks the address against a conservative local@domain.tld pattern.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidDate reports whether date is YYYY-MM-DD and falls within
// [today, today+horizonDays]. Only the calendar day of today is used.
func ValidDate(date string, today time.Time, horizonDays int) bool {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(start) {
		return false
	}
	return !d.After(start.AddDate(0, 0, horizonDays))
}

// ValidTime reports whether clock is HH:MM and inside window, both bounds inclusive.
func ValidTime(clock string, window TimeWindow) bool {
	t, ok := minutesOf(clock)
	if !ok {
		return false
	}
	start, ok := minutesOf(window.Start)
	if !ok {
		return false
	}
	end, ok := minutesOf(window.End)
	if !ok {
		return false
	}
	return t >= start && t <= end
}

// ValidPhone accepts an optional + and 10 to 15 digits with no leading zero,
// after whitespace, dashes and parentheses are removed.
func ValidPhone(phone string) bool {
	return phonePattern.MatchString(phoneStrip.Replace(phone))
}

func minutesOf(clock string) (int, bool) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
