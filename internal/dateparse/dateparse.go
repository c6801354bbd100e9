// Package dateparse normalizes free-form date and time phrases into the
// canonical slot forms used across the booking flow: YYYY-MM-DD and HH:MM.
package dateparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DateLayout is the canonical date form.
	DateLayout = "2006-01-02"
	// TimeLayout is the canonical 24-hour time form.
	TimeLayout = "15:04"
)

var weekdays = []struct {
	name string
	day  time.Weekday
}{
	{"monday", time.Monday},
	{"tuesday", time.Tuesday},
	{"wednesday", time.Wednesday},
	{"thursday", time.Thursday},
	{"friday", time.Friday},
	{"saturday", time.Saturday},
	{"sunday", time.Sunday},
}

// Layouts accepted after the phrase checks, in priority order. Non-padded
// layouts accept both "1/5/2024" and "01/05/2024".
var dateLayouts = []string{
	"2006-1-2",
	"1/2/2006",
	"2/1/2006",
	"1-2-2006",
}

// Checked in order: morning, afternoon, noon, evening. "afternoon" precedes
// "noon" so that "afternoon" is not captured by "noon".
var timePhrases = []struct {
	phrase string
	value  string
}{
	{"morning", "09:00"},
	{"afternoon", "14:00"},
	{"noon", "12:00"},
	{"evening", "17:00"},
}

var (
	clockWithMeridiemRE = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*(am|pm)?`)
	hourWithMeridiemRE  = regexp.MustCompile(`(\d{1,2})\s*(am|pm)`)
	bareClockRE         = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// ParseDate maps a date phrase to YYYY-MM-DD relative to now. The second
// return value is false when nothing matched.
func ParseDate(text string, now time.Time) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch text {
	case "today", "now":
		return today.Format(DateLayout), true
	case "tomorrow":
		return today.AddDate(0, 0, 1).Format(DateLayout), true
	}

	if strings.Contains(text, "next week") {
		return today.AddDate(0, 0, 7).Format(DateLayout), true
	}

	for _, wd := range weekdays {
		if !strings.Contains(text, wd.name) {
			continue
		}
		ahead := mondayIndex(wd.day) - mondayIndex(today.Weekday())
		if ahead <= 0 {
			ahead += 7
		}
		return today.AddDate(0, 0, ahead).Format(DateLayout), true
	}

	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.Format(DateLayout), true
		}
	}
	return "", false
}

// ParseTime maps a time phrase to 24-hour HH:MM. The second return value is
// false when nothing matched or the matched clock is out of range.
func ParseTime(text string) (string, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}

	for _, p := range timePhrases {
		if strings.Contains(text, p.phrase) {
			return p.value, true
		}
	}

	if m := clockWithMeridiemRE.FindStringSubmatch(text); m != nil {
		if out, ok := to24Hour(m[1], m[2], m[3]); ok {
			return out, true
		}
	}
	if m := hourWithMeridiemRE.FindStringSubmatch(text); m != nil {
		if out, ok := to24Hour(m[1], "0", m[2]); ok {
			return out, true
		}
	}
	if m := bareClockRE.FindStringSubmatch(text); m != nil {
		if out, ok := to24Hour(m[1], m[2], ""); ok {
			return out, true
		}
	}
	return "", false
}

// FormatDateTime renders canonical slots as "Monday, January 15, 2024 at 2:00 PM".
// If either input does not parse, the raw values are joined instead.
func FormatDateTime(date, clock string) string {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return fmt.Sprintf("%s at %s", date, clock)
	}
	c, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return fmt.Sprintf("%s at %s", date, clock)
	}
	return fmt.Sprintf("%s at %s", d.Format("Monday, January 02, 2006"), c.Format("3:04 PM"))
}

// DayOfWeek returns the weekday name of a canonical date.
func DayOfWeek(date string) (string, bool) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", false
	}
	return d.Weekday().String(), true
}

// IsSunday reports whether a canonical date falls on a Sunday, the day the clinic is closed.
func IsSunday(date string) bool {
	day, ok := DayOfWeek(date)
	return ok && day == time.Sunday.String()
}

func to24Hour(hourStr, minuteStr, meridiem string) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return "", false
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil || minute > 59 {
		return "", false
	}
	switch meridiem {
	case "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

// mondayIndex numbers weekdays Monday=0 .. Sunday=6.
func mondayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}
