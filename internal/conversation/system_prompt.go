package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/dental-receptionist/internal/booking"
	"github.com/wolfman30/dental-receptionist/internal/clinic"
)

const (
	defaultGreetingTemplate = "Hello! I'm %s, the AI receptionist at %s. How may I help you today?"
	fallbackReply           = "I'm having technical difficulties. Could you please repeat that?"
	bookedWithoutTextReply  = "You're all set! You'll receive a confirmation email shortly."
)

// suggestedTimes are the slots the assistant offers when asked for a time.
var suggestedTimes = []string{"9 AM", "10 AM", "11 AM", "2 PM", "3 PM", "4 PM", "5 PM"}

// greeting is the first assistant message of every session.
func greeting(p *clinic.Profile) string {
	return fmt.Sprintf(defaultGreetingTemplate, p.AssistantName, p.Name)
}

// buildSystemPrompt renders the static instruction for the assistant with
// date context relative to now.
func buildSystemPrompt(p *clinic.Profile, now time.Time) string {
	tomorrow := now.AddDate(0, 0, 1)
	nextWeek := now.AddDate(0, 0, 7)

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a friendly and professional AI receptionist at %s.\n\n", p.AssistantName, p.Name)
	fmt.Fprintf(&b, "TODAY'S DATE: %s\n\n", now.Format("Monday, January 02, 2006"))

	fmt.Fprintf(&b, "About %s:\n", p.Name)
	fmt.Fprintf(&b, "- Services: %s\n", strings.Join(p.Services, ", "))
	b.WriteString("- Dentists:\n")
	for _, d := range p.Dentists {
		fmt.Fprintf(&b, "  * %s - %s\n", d.Name, strings.Join(d.Specialties, ", "))
	}
	fmt.Fprintf(&b, "- Working Hours: %s, %s to %s%s\n",
		openDaysPhrase(p), clockPhrase(p.Window.Start), clockPhrase(p.Window.End), closedDaysPhrase(p))
	fmt.Fprintf(&b, "- Location: %s\n", p.Address)
	fmt.Fprintf(&b, "- Phone: %s\n\n", p.Phone)

	b.WriteString("Your responsibilities:\n")
	b.WriteString("1. Greet patients warmly\n")
	b.WriteString("2. Ask for their name if not provided\n")
	b.WriteString("3. Understand what service they need\n")
	b.WriteString("4. Suggest available dates within the next 7-14 days (e.g., \"tomorrow\", \"this Friday\", or \"next Monday\")\n")
	fmt.Fprintf(&b, "5. Ask for a preferred time (suggest %s)\n", joinOr(suggestedTimes))
	b.WriteString("6. Suggest an appropriate dentist based on the service\n")
	b.WriteString("7. Collect their email for confirmation\n")
	b.WriteString("8. Confirm all details clearly and naturally\n\n")

	b.WriteString("Guidelines:\n")
	fmt.Fprintf(&b, "- Suggest only valid business days (%s)\n", openDaysShort(p))
	fmt.Fprintf(&b, "- When user says \"tomorrow\" -> %s\n", tomorrow.Format("January 02, 2006"))
	fmt.Fprintf(&b, "- When user says \"next week\" -> suggest specific days between %s and %s\n",
		nextWeek.Format("January 02"), nextWeek.AddDate(0, 0, 6).Format("January 02"))
	b.WriteString("- Be conversational, empathetic, and concise (max 3-4 sentences)\n")
	b.WriteString("- Complete all sentences fully\n")
	b.WriteString("- Never read out or mention the booking marker below\n\n")

	fmt.Fprintf(&b, "When you have ALL required info (%s), include this hidden marker at the END:\n\n",
		strings.Join(booking.RequiredSlots, ", "))
	b.WriteString(booking.OpenSentinel + "\n")
	b.WriteString("name: [patient name]\n")
	b.WriteString("email: [patient email]\n")
	b.WriteString("service: [service type]\n")
	b.WriteString("date: [YYYY-MM-DD format]\n")
	b.WriteString("time: [HH:MM in 24-hour format]\n")
	b.WriteString("dentist: [dentist name]\n")
	b.WriteString(booking.CloseSentinel + "\n\n")
	b.WriteString("This marker will not be shown to users, so write your response naturally above it.\n\n")

	example := exampleDentist(p)
	b.WriteString("Example:\n")
	fmt.Fprintf(&b, "\"Perfect, John! I've scheduled your %s for tomorrow at 11 AM with %s. "+
		"You'll receive a confirmation email at john@email.com shortly. Looking forward to seeing you!\n\n",
		strings.ToLower(example.service), example.dentist)
	b.WriteString(booking.OpenSentinel + "\n")
	b.WriteString("name: John\n")
	b.WriteString("email: john@email.com\n")
	fmt.Fprintf(&b, "service: %s\n", example.service)
	fmt.Fprintf(&b, "date: %s\n", tomorrow.Format("2006-01-02"))
	b.WriteString("time: 11:00\n")
	fmt.Fprintf(&b, "dentist: %s\n", example.dentist)
	b.WriteString(booking.CloseSentinel + "\"")

	return b.String()
}

type promptExample struct {
	service string
	dentist string
}

// exampleDentist picks the whitening specialist when the roster has one.
func exampleDentist(p *clinic.Profile) promptExample {
	ex := promptExample{service: "Teeth Whitening", dentist: "Dr. Priya Sharma"}
	for _, d := range p.Dentists {
		for _, s := range d.Specialties {
			if strings.Contains(strings.ToLower(s), "whitening") {
				ex.dentist = d.Name
				return ex
			}
		}
	}
	if len(p.Dentists) > 0 {
		ex.dentist = p.Dentists[0].Name
	}
	if len(p.Services) > 0 && !p.ValidService(ex.service) {
		ex.service = p.Services[0]
	}
	return ex
}

func openDaysPhrase(p *clinic.Profile) string {
	days := p.OpenDays()
	switch len(days) {
	case 0:
		return "By appointment only"
	case 1:
		return days[0].String()
	}
	if contiguous(days) {
		return fmt.Sprintf("%s to %s", days[0], days[len(days)-1])
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()
	}
	return strings.Join(names, ", ")
}

func openDaysShort(p *clinic.Profile) string {
	days := p.OpenDays()
	if len(days) == 0 {
		return "none"
	}
	if contiguous(days) && len(days) > 1 {
		return days[0].String()[:3] + "-" + days[len(days)-1].String()[:3]
	}
	names := make([]string, len(days))
	for i, d := range days {
		names[i] = d.String()[:3]
	}
	return strings.Join(names, ", ")
}

func closedDaysPhrase(p *clinic.Profile) string {
	var closed []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if !p.OpenOn(d) {
			closed = append(closed, d.String()+"s")
		}
	}
	if len(closed) == 0 {
		return ""
	}
	return " (Closed " + strings.Join(closed, ", ") + ")"
}

// contiguous reports whether days (Monday-first order) form one unbroken run.
func contiguous(days []time.Weekday) bool {
	for i := 1; i < len(days); i++ {
		if (int(days[i-1])+1)%7 != int(days[i]) {
			return false
		}
	}
	return true
}

func clockPhrase(clock string) string {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return clock
	}
	if t.Minute() == 0 {
		return t.Format("3 PM")
	}
	return t.Format("3:04 PM")
}

func joinOr(items []string) string {
	if len(items) < 2 {
		return strings.Join(items, "")
	}
	return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
}
