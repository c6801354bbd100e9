package booking

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wolfman30/dental-receptionist/internal/clinic"
	"github.com/wolfman30/dental-receptionist/internal/dateparse"
)

// Mode controls whether invalid slot values block a booking.
type Mode string

const (
	// ModeStrict refuses to book while any slot value is invalid.
	ModeStrict Mode = "strict"
	// ModeLenient books with normalized values and only reports invalid ones.
	ModeLenient Mode = "lenient"
)

// ParseMode maps a config string to a Mode, defaulting to strict.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeLenient)) {
		return ModeLenient
	}
	return ModeStrict
}

// Policy re-checks parsed slots against the clinic profile before anything is persisted.
type Policy struct {
	Profile     *clinic.Profile
	HorizonDays int
	Mode        Mode
	Now         func() time.Time
}

// Review is the outcome of Policy.Review.
type Review struct {
	// Slots holds normalized values: canonical date, 24h time, catalog service name.
	Slots map[string]string
	// Invalid lists slot names whose values failed validation.
	Invalid []string
	// ClosedDay is set when the date parsed but falls on a day without hours.
	ClosedDay string
	// Blocked is true when the booking must not proceed.
	Blocked bool
}

// NewPolicy builds a policy with defaults filled in.
func NewPolicy(profile *clinic.Profile, horizonDays int, mode Mode) *Policy {
	if profile == nil {
		profile = clinic.DefaultProfile()
	}
	if horizonDays <= 0 {
		horizonDays = clinic.DefaultHorizonDays
	}
	return &Policy{Profile: profile, HorizonDays: horizonDays, Mode: mode, Now: time.Now}
}

// Review normalizes and validates a complete slot set. The input map is not modified.
func (p *Policy) Review(slots map[string]string) Review {
	now := time.Now()
	if p.Now != nil {
		now = p.Now()
	}

	normalized := make(map[string]string, len(slots))
	for k, v := range slots {
		normalized[k] = v
	}
	if d, ok := normalizeDate(normalized["date"], now); ok {
		normalized["date"] = d
	}
	if t, ok := normalizeTime(normalized["time"]); ok {
		normalized["time"] = t
	}
	if s, ok := p.Profile.CanonicalService(normalized["service"]); ok {
		normalized["service"] = s
	}

	var r Review
	r.Slots = normalized

	if strings.TrimSpace(normalized["name"]) == "" {
		r.Invalid = append(r.Invalid, "name")
	}
	if !clinic.ValidEmail(normalized["email"]) {
		r.Invalid = append(r.Invalid, "email")
	}
	if !p.Profile.ValidService(normalized["service"]) {
		r.Invalid = append(r.Invalid, "service")
	}
	if !clinic.ValidDate(normalized["date"], now, p.HorizonDays) {
		r.Invalid = append(r.Invalid, "date")
	} else if d, err := time.Parse(dateparse.DateLayout, normalized["date"]); err == nil && !p.Profile.OpenOn(d.Weekday()) {
		r.ClosedDay = d.Weekday().String()
		r.Invalid = append(r.Invalid, "date")
	}
	if !clinic.ValidTime(normalized["time"], p.Profile.Window) {
		r.Invalid = append(r.Invalid, "time")
	}
	if !p.Profile.ValidDentist(normalized["dentist"]) {
		r.Invalid = append(r.Invalid, "dentist")
	}
	if phone, ok := normalized["phone"]; ok && phone != "" && !clinic.ValidPhone(phone) {
		r.Invalid = append(r.Invalid, "phone")
	}

	r.Blocked = len(r.Invalid) > 0 && p.Mode != ModeLenient
	return r
}

var (
	explicitDateRE = regexp.MustCompile(`\b\d{4}-\d{1,2}-\d{1,2}\b`)
	explicitTimeRE = regexp.MustCompile(`(?i)\b\d{1,2}:\d{2}(\s*[ap]m)?\b|\b\d{1,2}\s*[ap]m\b`)
)

// normalizeDate keeps an explicit calendar date when the value carries one.
// Phrases like "next friday" are resolved only when no date is written out.
func normalizeDate(v string, now time.Time) (string, bool) {
	if m := explicitDateRE.FindString(v); m != "" {
		d, err := time.Parse("2006-1-2", m)
		if err != nil {
			return "", false
		}
		return d.Format(dateparse.DateLayout), true
	}
	return dateparse.ParseDate(v, now)
}

// normalizeTime keeps an explicit clock time when the value carries one.
// A bare clock paired with "afternoon" or "evening" is read as PM.
func normalizeTime(v string) (string, bool) {
	m := explicitTimeRE.FindString(v)
	if m == "" {
		return dateparse.ParseTime(v)
	}
	out, ok := dateparse.ParseTime(m)
	if !ok {
		return "", false
	}
	lower := strings.ToLower(v)
	if !strings.HasSuffix(strings.ToLower(m), "m") &&
		(strings.Contains(lower, "afternoon") || strings.Contains(lower, "evening")) {
		if t, err := time.Parse(dateparse.TimeLayout, out); err == nil && t.Hour() < 12 {
			out = t.Add(12 * time.Hour).Format(dateparse.TimeLayout)
		}
	}
	return out, true
}

var slotLabels = map[string]string{
	"name":    "name",
	"email":   "email address",
	"service": "service",
	"date":    "preferred date",
	"time":    "preferred time",
	"dentist": "dentist",
	"phone":   "phone number",
}

// Clarification is the reply sent instead of a confirmation when a review blocks.
func (p *Policy) Clarification(r Review) string {
	labels := make([]string, 0, len(r.Invalid))
	for _, f := range r.Invalid {
		if l, ok := slotLabels[f]; ok {
			labels = append(labels, l)
		} else {
			labels = append(labels, f)
		}
	}

	var b strings.Builder
	if r.ClosedDay != "" {
		fmt.Fprintf(&b, "We're closed on %ss, so I can't book that day. ", r.ClosedDay)
	}
	fmt.Fprintf(&b, "Before I book this, could you please confirm your %s?", joinLabels(labels))
	if containsField(r.Invalid, "time") {
		fmt.Fprintf(&b, " We see patients between %s and %s.",
			formatClock(p.Profile.Window.Start), formatClock(p.Profile.Window.End))
	}
	return b.String()
}

func joinLabels(labels []string) string {
	switch len(labels) {
	case 0:
		return "details"
	case 1:
		return labels[0]
	case 2:
		return labels[0] + " and " + labels[1]
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + " and " + labels[len(labels)-1]
	}
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func formatClock(clock string) string {
	t, err := time.Parse(dateparse.TimeLayout, clock)
	if err != nil {
		return clock
	}
	return t.Format("3:04 PM")
}
