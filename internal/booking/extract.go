// Package booking turns assistant replies into appointment slot sets.
//
// The assistant is instructed to append a block like
//
//	APPOINTMENT_READY
//	name: John
//	email: john@example.com
//	...
//	END_APPOINTMENT
//
// once it has every required slot. Extract pulls that block out of the reply so
// the caller gets the visible text and the parsed slots separately.
package booking

import (
	"strings"
)

const (
	// OpenSentinel starts a slot block.
	OpenSentinel = "APPOINTMENT_READY"
	// CloseSentinel ends a slot block.
	CloseSentinel = "END_APPOINTMENT"
)

// RequiredSlots are the keys a block must carry to be bookable, in display order.
var RequiredSlots = []string{"name", "email", "service", "date", "time", "dentist"}

// Outcome classifies an assistant reply.
type Outcome int

const (
	// Conversational replies carry no slot block.
	Conversational Outcome = iota
	// BookingReady replies carry a block with every required slot.
	BookingReady
	// BookingIncomplete replies carry a block that is unterminated or missing slots.
	BookingIncomplete
)

func (o Outcome) String() string {
	switch o {
	case BookingReady:
		return "booking_ready"
	case BookingIncomplete:
		return "booking_incomplete"
	default:
		return "conversational"
	}
}

// Extraction is the result of parsing one assistant reply.
type Extraction struct {
	Outcome Outcome
	// Reply is the user-visible text with the block removed.
	Reply string
	// Slots is set only for BookingReady.
	Slots map[string]string
	// Missing lists required slots absent from an incomplete block.
	Missing []string
}

// Extract parses raw assistant output. It never fails: malformed blocks degrade
// to BookingIncomplete and the visible reply never contains a sentinel.
func Extract(raw string) Extraction {
	open := strings.Index(raw, OpenSentinel)
	if open < 0 {
		return Extraction{Outcome: Conversational, Reply: visible(raw)}
	}

	out := Extraction{Reply: visible(raw[:open])}
	body := raw[open+len(OpenSentinel):]
	end := strings.Index(body, CloseSentinel)
	if end < 0 {
		out.Outcome = BookingIncomplete
		out.Missing = append([]string(nil), RequiredSlots...)
		return out
	}

	slots := parseBlock(body[:end])
	for _, key := range RequiredSlots {
		if _, ok := slots[key]; !ok {
			out.Missing = append(out.Missing, key)
		}
	}
	if len(out.Missing) > 0 {
		out.Outcome = BookingIncomplete
		return out
	}
	out.Outcome = BookingReady
	out.Slots = slots
	return out
}

// Intent maps the outcome to the turn intent reported to clients.
func (e Extraction) Intent() string {
	if e.Outcome == BookingReady {
		return "book_appointment"
	}
	return "conversation"
}

func parseBlock(block string) map[string]string {
	slots := make(map[string]string)
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == OpenSentinel || line == CloseSentinel {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		slots[key] = strings.TrimSpace(value)
	}
	return slots
}

// visible trims text and cuts it at the first stray sentinel of either kind.
func visible(text string) string {
	cut := len(text)
	for _, s := range []string{OpenSentinel, CloseSentinel} {
		if i := strings.Index(text, s); i >= 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(text[:cut])
}
