// Package main runs end-to-end scenarios of the booking dialogue against a
// running API with a real LLM behind it. Scenarios cover:
//   - Greeting and session creation
//   - Single-message booking with every detail supplied
//   - Multi-turn slot collection
//   - Sunday and out-of-hours requests being redirected
//   - General service questions without a booking
//   - Persisted history and appointments
//
// Usage:
//
//	API_BASE_URL=http://localhost:8080 go run scripts/e2e/run_e2e.go              # runs all
//	API_BASE_URL=http://localhost:8080 go run scripts/e2e/run_e2e.go happy-path   # runs one
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestTimeout = 90 * time.Second

var (
	apiBase string
	client  = &http.Client{Timeout: requestTimeout}
)

type scenario struct {
	Name string
	Fn   func(t *T)
}

// T is a lightweight test context for a single scenario.
type T struct {
	passed int
	failed int
	name   string
}

func (t *T) check(name string, ok bool) {
	if ok {
		fmt.Printf("    PASS: %s\n", name)
		t.passed++
	} else {
		fmt.Printf("    FAIL: %s\n", name)
		t.failed++
	}
}

func (t *T) fatalf(format string, args ...interface{}) {
	fmt.Printf("    FATAL: "+format+"\n", args...)
	t.failed++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type turn struct {
	SessionID     string            `json:"session_id"`
	UserText      string            `json:"user_text"`
	AssistantText string            `json:"assistant_text"`
	Intent        string            `json:"intent"`
	Metadata      map[string]string `json:"metadata"`
	AudioURL      string            `json:"audio_url"`
}

func getJSON(path string, out interface{}) (int, error) {
	resp, err := client.Get(apiBase + path)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func greet(sessionID string) (map[string]string, error) {
	var out map[string]string
	code, err := getJSON("/api/conversation/greeting?session_id="+sessionID, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("greeting returned %d", code)
	}
	return out, nil
}

func say(sessionID, text string) (*turn, error) {
	fmt.Printf("    > %s\n", text)
	body, _ := json.Marshal(map[string]string{"session_id": sessionID, "message": text})
	resp, err := client.Post(apiBase+"/api/conversation/process-text", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("process-text returned %d: %s", resp.StatusCode, string(raw))
	}
	var out turn
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	fmt.Printf("    < %s\n", out.AssistantText)
	return &out, nil
}

// conversation sends each line in order and returns the last turn.
func conversation(t *T, sessionID string, lines ...string) *turn {
	var last *turn
	for _, line := range lines {
		tr, err := say(sessionID, line)
		if err != nil {
			t.fatalf("%v", err)
			return nil
		}
		last = tr
	}
	return last
}

func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// nextWeekday returns the next date strictly after today falling on day.
func nextWeekday(day time.Weekday) time.Time {
	d := time.Now().AddDate(0, 0, 1)
	for d.Weekday() != day {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func newSession() string {
	return "e2e-" + uuid.NewString()
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func scenarioGreeting(t *T) {
	id := newSession()
	g, err := greet(id)
	if err != nil {
		t.fatalf("%v", err)
		return
	}
	t.check("session id echoed", g["session_id"] == id)
	t.check("assistant introduces itself", containsAny(g["text"], "Sarah"))
	t.check("greeting has audio", strings.Contains(g["audio_url"], "/api/conversation/audio/"))

	var history map[string]interface{}
	code, err := getJSON("/api/conversation/history/"+id, &history)
	t.check("history readable after greeting", err == nil && code == http.StatusOK)
}

func scenarioHappyPath(t *T) {
	id := newSession()
	monday := nextWeekday(time.Monday)
	last := conversation(t, id,
		fmt.Sprintf("Hi, I'm Jordan Lee, jordan.lee@example.com. I'd like a teeth cleaning with Dr. Emily Chen on %s at 10 AM.", monday.Format("January 2, 2006")),
		"Yes, that's all correct, please book it.",
	)
	if last == nil {
		return
	}
	if last.Intent != "book_appointment" {
		// Some models ask for one more confirmation.
		last = conversation(t, id, "Yes, please confirm the booking.")
		if last == nil {
			return
		}
	}
	t.check("booking intent", last.Intent == "book_appointment")
	t.check("date normalized", last.Metadata["date"] == monday.Format("2006-01-02"))
	t.check("time normalized", last.Metadata["time"] == "10:00")
	t.check("dentist captured", containsAny(last.Metadata["dentist"], "Chen"))
	t.check("no sentinel leaked", !containsAny(last.AssistantText, "APPOINTMENT_READY", "END_APPOINTMENT"))

	var appts map[string]interface{}
	code, err := getJSON("/api/appointments/"+id, &appts)
	list, _ := appts["appointments"].([]interface{})
	t.check("appointment persisted", err == nil && code == http.StatusOK && len(list) == 1)
}

func scenarioMultiTurn(t *T) {
	id := newSession()
	first := conversation(t, id, "I'd like to book an appointment.")
	if first == nil {
		return
	}
	t.check("asks for details", first.Intent == "conversation" && strings.Contains(first.AssistantText, "?"))

	second := conversation(t, id, "A root canal please, with Dr. James Wilson.")
	if second == nil {
		return
	}
	t.check("does not book without a date", second.Intent != "book_appointment")

	var history map[string]interface{}
	_, _ = getJSON("/api/conversation/history/"+id, &history)
	msgs, _ := history["messages"].([]interface{})
	t.check("history has both turns", len(msgs) >= 4)
}

func scenarioSunday(t *T) {
	id := newSession()
	sunday := nextWeekday(time.Sunday)
	last := conversation(t, id,
		fmt.Sprintf("Can I get a check-up on Sunday %s at 11 AM? My name is Sam Park, sam@example.com.", sunday.Format("January 2")),
	)
	if last == nil {
		return
	}
	t.check("sunday not booked", last.Intent != "book_appointment")
	t.check("mentions being closed or another day", containsAny(last.AssistantText, "closed", "sunday", "monday", "saturday", "another day"))
}

func scenarioOutOfHours(t *T) {
	id := newSession()
	tuesday := nextWeekday(time.Tuesday)
	last := conversation(t, id,
		fmt.Sprintf("Book me a teeth whitening with Dr. Priya Sharma on %s at 8 PM. I'm Alex Kim, alex@example.com.", tuesday.Format("January 2")),
	)
	if last == nil {
		return
	}
	t.check("evening slot not booked", last.Intent != "book_appointment")
	t.check("offers working hours", containsAny(last.AssistantText, "9", "6 PM", "hours", "PM"))
}

func scenarioServiceQuestion(t *T) {
	id := newSession()
	last := conversation(t, id, "Which dentist should I see for braces?")
	if last == nil {
		return
	}
	t.check("no booking for a question", last.Intent == "conversation")
	t.check("recommends orthodontist", containsAny(last.AssistantText, "Johnson", "orthodont"))
}

func scenarioOperational(t *T) {
	code, err := getJSON("/health", nil)
	t.check("health ok", err == nil && code == http.StatusOK)

	var stats map[string]interface{}
	code, err = getJSON("/api/stats", &stats)
	t.check("stats ok", err == nil && code == http.StatusOK)

	var list map[string]interface{}
	code, err = getJSON("/api/appointments/list", &list)
	t.check("appointment list ok", err == nil && code == http.StatusOK)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	apiBase = strings.TrimRight(os.Getenv("API_BASE_URL"), "/")
	if apiBase == "" {
		fmt.Fprintln(os.Stderr, "ERROR: API_BASE_URL required")
		os.Exit(1)
	}

	scenarios := []scenario{
		{"greeting", scenarioGreeting},
		{"happy-path", scenarioHappyPath},
		{"multi-turn", scenarioMultiTurn},
		{"sunday", scenarioSunday},
		{"out-of-hours", scenarioOutOfHours},
		{"service-question", scenarioServiceQuestion},
		{"operational", scenarioOperational},
	}

	filter := ""
	if len(os.Args) > 1 {
		filter = os.Args[1]
	}

	totalPassed := 0
	totalFailed := 0
	scenarioResults := make([]string, 0)

	for _, s := range scenarios {
		if filter != "" && s.Name != filter {
			continue
		}

		fmt.Printf("\n========================================\n")
		fmt.Printf("SCENARIO: %s\n", s.Name)
		fmt.Printf("========================================\n")

		t := &T{name: s.Name}
		s.Fn(t)

		totalPassed += t.passed
		totalFailed += t.failed

		status := "PASS"
		if t.failed > 0 {
			status = "FAIL"
		}
		scenarioResults = append(scenarioResults, fmt.Sprintf("  %s %s (%d passed, %d failed)", status, s.Name, t.passed, t.failed))
	}

	fmt.Printf("\n========================================\n")
	fmt.Println("SUMMARY")
	fmt.Printf("========================================\n")
	for _, r := range scenarioResults {
		fmt.Println(r)
	}
	fmt.Printf("\nTotal: %d passed, %d failed\n", totalPassed, totalFailed)

	if totalFailed > 0 {
		fmt.Println("\nSOME SCENARIOS FAILED")
		os.Exit(1)
	}
	fmt.Println("\nALL SCENARIOS PASSED")
}
