package booking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completeReply = `Perfect, John! I've scheduled your teeth whitening for tomorrow at 11 AM with Dr. Priya Sharma.

APPOINTMENT_READY
name: John
email: john@email.com
service: Teeth Whitening
date: 2025-01-02
time: 11:00
dentist: Dr. Priya Sharma
END_APPOINTMENT`

func TestExtract_PlainConversation(t *testing.T) {
	inputs := []string{
		"  Hi there! What service are you looking for?\n",
		"Sure: we are open Monday to Saturday.",
		"",
	}
	for _, in := range inputs {
		got := Extract(in)
		assert.Equal(t, Conversational, got.Outcome)
		assert.Equal(t, strings.TrimSpace(in), got.Reply)
		assert.Nil(t, got.Slots)
		assert.Equal(t, "conversation", got.Intent())
	}
}

func TestExtract_CompleteBlock(t *testing.T) {
	got := Extract(completeReply)

	require.Equal(t, BookingReady, got.Outcome)
	assert.Equal(t, "book_appointment", got.Intent())
	assert.Equal(t, "Perfect, John! I've scheduled your teeth whitening for tomorrow at 11 AM with Dr. Priya Sharma.", got.Reply)
	assert.Equal(t, map[string]string{
		"name":    "John",
		"email":   "john@email.com",
		"service": "Teeth Whitening",
		"date":    "2025-01-02",
		"time":    "11:00",
		"dentist": "Dr. Priya Sharma",
	}, got.Slots)
	assert.Empty(t, got.Missing)
}

func TestExtract_KeysAreLowercasedAndValuesSplitOnFirstColon(t *testing.T) {
	raw := "Done.\nAPPOINTMENT_READY\n  Name : Jane Doe \nEMAIL: jane@x.io\nService: root canal\nDate: 2025-02-03\nTime: 14:30\nDentist: Dr. James Wilson\nnotes without colon\nEND_APPOINTMENT"

	got := Extract(raw)

	require.Equal(t, BookingReady, got.Outcome)
	assert.Equal(t, "Jane Doe", got.Slots["name"])
	assert.Equal(t, "14:30", got.Slots["time"], "only the first colon splits")
	assert.Equal(t, "root canal", got.Slots["service"])
	assert.NotContains(t, got.Slots, "notes without colon")
}

func TestExtract_MissingSlotsDegrade(t *testing.T) {
	raw := "Almost there!\nAPPOINTMENT_READY\nname: John\nemail: john@x.com\nservice: Root Canal\nEND_APPOINTMENT\nThanks!"

	got := Extract(raw)

	assert.Equal(t, BookingIncomplete, got.Outcome)
	assert.Equal(t, "conversation", got.Intent())
	assert.Equal(t, "Almost there!", got.Reply)
	assert.Nil(t, got.Slots)
	assert.Equal(t, []string{"date", "time", "dentist"}, got.Missing)
}

func TestExtract_UnterminatedBlock(t *testing.T) {
	got := Extract("Let me book that.\nAPPOINTMENT_READY\nname: John")

	assert.Equal(t, BookingIncomplete, got.Outcome)
	assert.Equal(t, "Let me book that.", got.Reply)
	assert.Equal(t, RequiredSlots, got.Missing)
}

func TestExtract_CloseBeforeOpenIsIgnored(t *testing.T) {
	raw := "END_APPOINTMENT oops\n" + completeReply

	got := Extract(raw)

	// The close token before the block must not pair with the open token.
	assert.Equal(t, BookingReady, got.Outcome)
	assert.Equal(t, "", got.Reply)
}

func TestExtract_StrayCloseSentinelNeverVisible(t *testing.T) {
	got := Extract("See you soon! END_APPOINTMENT")

	assert.Equal(t, Conversational, got.Outcome)
	assert.Equal(t, "See you soon!", got.Reply)
}

func TestExtract_TextAfterBlockDropped(t *testing.T) {
	got := Extract(completeReply + "\nAnything else?")

	assert.Equal(t, BookingReady, got.Outcome)
	assert.NotContains(t, got.Reply, "Anything else?")
	assert.NotContains(t, got.Reply, OpenSentinel)
}

func TestExtract_DuplicateKeysLastWins(t *testing.T) {
	raw := strings.Replace(completeReply, "time: 11:00", "time: 10:00\ntime: 11:00", 1)

	got := Extract(raw)

	require.Equal(t, BookingReady, got.Outcome)
	assert.Equal(t, "11:00", got.Slots["time"])
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "conversational", Conversational.String())
	assert.Equal(t, "booking_ready", BookingReady.String())
	assert.Equal(t, "booking_incomplete", BookingIncomplete.String())
}
