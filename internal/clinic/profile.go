// Package clinic holds the static clinic profile: catalog, roster, business
// hours, and the slot validators that check booking values against them.
package clinic

import (
	"strings"
	"time"
)

// DayHours represents the opening hours for a single day.
// Nil means the clinic is closed that day.
type DayHours struct {
	Open  string `json:"open"`  // "09:00" in 24-hour format
	Close string `json:"close"` // "18:00" in 24-hour format
}

// BusinessHours maps day names to their hours.
type BusinessHours struct {
	Monday    *DayHours `json:"monday,omitempty"`
	Tuesday   *DayHours `json:"tuesday,omitempty"`
	Wednesday *DayHours `json:"wednesday,omitempty"`
	Thursday  *DayHours `json:"thursday,omitempty"`
	Friday    *DayHours `json:"friday,omitempty"`
	Saturday  *DayHours `json:"saturday,omitempty"`
	Sunday    *DayHours `json:"sunday,omitempty"`
}

// GetHoursForDay returns the hours for a given weekday.
func (b *BusinessHours) GetHoursForDay(weekday time.Weekday) *DayHours {
	switch weekday {
	case time.Sunday:
		return b.Sunday
	case time.Monday:
		return b.Monday
	case time.Tuesday:
		return b.Tuesday
	case time.Wednesday:
		return b.Wednesday
	case time.Thursday:
		return b.Thursday
	case time.Friday:
		return b.Friday
	case time.Saturday:
		return b.Saturday
	default:
		return nil
	}
}

// Dentist is a roster entry.
type Dentist struct {
	Name        string   `json:"name"`
	Specialties []string `json:"specialties"`
}

// Profile describes the clinic the assistant answers for.
type Profile struct {
	Name          string        `json:"name"`
	AssistantName string        `json:"assistant_name"`
	Address       string        `json:"address"`
	Phone         string        `json:"phone"`
	Services      []string      `json:"services"`
	Dentists      []Dentist     `json:"dentists"`
	BusinessHours BusinessHours `json:"business_hours"`
	// Window bounds used by ValidTime, inclusive on both ends.
	Window TimeWindow `json:"booking_window"`
}

// TimeWindow is a daily booking window in HH:MM.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// DefaultProfile returns the SmileCare Dental profile.
func DefaultProfile() *Profile {
	weekday := &DayHours{Open: "09:00", Close: "18:00"}
	return &Profile{
		Name:          "SmileCare Dental",
		AssistantName: "Sarah",
		Address:       "123 Healthcare Ave, Downtown",
		Phone:         "(555) 123-4567",
		Services: []string{
			"General Checkup",
			"Teeth Cleaning",
			"Root Canal",
			"Teeth Whitening",
			"Braces Consultation",
			"Dental Implants",
		},
		Dentists: []Dentist{
			{Name: "Dr. Emily Chen", Specialties: []string{"General Dentistry", "Teeth Cleaning"}},
			{Name: "Dr. James Wilson", Specialties: []string{"Root Canal Specialist"}},
			{Name: "Dr. Priya Sharma", Specialties: []string{"Cosmetic Dentistry", "Whitening"}},
			{Name: "Dr. Mark Johnson", Specialties: []string{"Orthodontics", "Braces"}},
		},
		BusinessHours: BusinessHours{
			Monday:    weekday,
			Tuesday:   weekday,
			Wednesday: weekday,
			Thursday:  weekday,
			Friday:    weekday,
			Saturday:  weekday,
		},
		Window: TimeWindow{Start: "09:00", End: "18:00"},
	}
}

// WithWindow returns a copy of p using the given booking window. Blank bounds keep the current ones.
func (p *Profile) WithWindow(start, end string) *Profile {
	cp := *p
	if strings.TrimSpace(start) != "" {
		cp.Window.Start = strings.TrimSpace(start)
	}
	if strings.TrimSpace(end) != "" {
		cp.Window.End = strings.TrimSpace(end)
	}
	return &cp
}

// ValidService reports whether service is in the catalog, ignoring case.
func (p *Profile) ValidService(service string) bool {
	_, ok := p.CanonicalService(service)
	return ok
}

// CanonicalService returns the catalog spelling of service.
func (p *Profile) CanonicalService(service string) (string, bool) {
	needle := strings.TrimSpace(service)
	for _, s := range p.Services {
		if strings.EqualFold(s, needle) {
			return s, true
		}
	}
	return "", false
}

// ValidDentist reports whether name is on the roster. The match is exact.
func (p *Profile) ValidDentist(name string) bool {
	for _, d := range p.Dentists {
		if d.Name == name {
			return true
		}
	}
	return false
}

// DentistNames lists the roster in order.
func (p *Profile) DentistNames() []string {
	out := make([]string, 0, len(p.Dentists))
	for _, d := range p.Dentists {
		out = append(out, d.Name)
	}
	return out
}

// OpenOn reports whether the clinic has hours on the given weekday.
func (p *Profile) OpenOn(day time.Weekday) bool {
	return p.BusinessHours.GetHoursForDay(day) != nil
}

// OpenDays lists the weekdays with hours, Monday first.
func (p *Profile) OpenDays() []time.Weekday {
	var out []time.Weekday
	for _, d := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		if p.OpenOn(d) {
			out = append(out, d)
		}
	}
	return out
}
