package store

import (
	"math"
	"strings"
	"testing"
)

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestScoreImportance(t *testing.T) {
	cases := []struct {
		name    string
		hint    ImportanceHint
		content string
		want    float64
	}{
		{"critical base", HintCritical, "short note", 0.9},
		{"medium base", HintMedium, "short note", 0.5},
		{"unknown hint scores medium", ImportanceHint("huge"), "short note", 0.5},
		{"salience keyword adds", HintMedium, "I love rainy days", 0.6},
		{"two keywords add twice", HintMedium, "my family is important", 0.7},
		{"capped at one", HintCritical, "love family secret important", 1.0},
		{"low salience subtracts", HintMedium, "maybe later", 0.4},
		{"floored at one tenth", HintMinimal, "maybe, whatever", 0.1},
		{"long content bonus", HintMedium, strings.Repeat("x", 101), 0.55},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := scoreImportance(c.hint, c.content); !almostEqual(got, c.want) {
				t.Errorf("scoreImportance(%q, %q) = %v, want %v", c.hint, c.content, got, c.want)
			}
		})
	}
}

func TestExtractTopic(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"Guitars are my passion", "guitars"},
		{"the cat sat", "cat"},
		{"I am ok", "general"},
		{"", "general"},
		{"Coffee! every morning", "coffee"},
	}
	for _, c := range cases {
		if got := extractTopic(c.content); got != c.want {
			t.Errorf("extractTopic(%q) = %q, want %q", c.content, got, c.want)
		}
	}
}

func TestAddMemory_ScoresAndDerivesTopic(t *testing.T) {
	s := newTestStore(t)

	m, err := s.AddMemory(testKey, MemoryInterest, "guitars are my whole life, I love them", HintHigh)
	if err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if m.Topic != "guitars" {
		t.Errorf("topic = %q, want guitars", m.Topic)
	}
	// high (0.7) + "love" (0.1)
	if !almostEqual(m.Importance, 0.8) {
		t.Errorf("importance = %v, want 0.8", m.Importance)
	}
	if m.AccessCount != 0 {
		t.Errorf("access count = %d, want 0", m.AccessCount)
	}
}

func TestAddMemory_RejectsUnknownType(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AddMemory(testKey, MemoryType("rumor"), "x", HintLow); err == nil {
		t.Error("expected error for unknown memory type")
	}
}

func TestMemoriesByTopic_BumpsAccess(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddMemory(testKey, MemoryInterest, "guitars sound great", HintMedium); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := s.AddMemory(testKey, MemoryFact, "coffee keeps me awake", HintMedium); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	mems, err := s.MemoriesByTopic(testKey, "guitars")
	if err != nil {
		t.Fatalf("MemoriesByTopic: %v", err)
	}
	if len(mems) != 1 {
		t.Fatalf("got %d memories, want 1", len(mems))
	}
	if mems[0].AccessCount != 1 {
		t.Errorf("access count after first read = %d, want 1", mems[0].AccessCount)
	}

	mems, err = s.MemoriesByTopic(testKey, "guitars")
	if err != nil {
		t.Fatalf("MemoriesByTopic: %v", err)
	}
	if mems[0].AccessCount != 2 {
		t.Errorf("access count after second read = %d, want 2", mems[0].AccessCount)
	}
}

func TestTopMemories_OrderedByImportanceThenAccess(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddMemory(testKey, MemoryFact, "trivia tidbit, whatever", HintMinimal); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := s.AddMemory(testKey, MemoryRelationship, "family matters, this is important", HintCritical); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := s.AddMemory(testKey, MemoryPreference, "prefers tea", HintMedium); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	top, err := s.TopMemories(testKey, 2)
	if err != nil {
		t.Fatalf("TopMemories: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("got %d memories, want 2", len(top))
	}
	if top[0].Type != MemoryRelationship {
		t.Errorf("top memory type = %q, want relationship", top[0].Type)
	}
	if top[1].Type != MemoryPreference {
		t.Errorf("second memory type = %q, want preference", top[1].Type)
	}
	if top[0].Importance < top[1].Importance {
		t.Errorf("ordering broken: %v < %v", top[0].Importance, top[1].Importance)
	}
}

func TestMemories_IsolatedPerKey(t *testing.T) {
	s := newTestStore(t)
	other := Key{UserID: "user-2", ModelID: "miku"}

	if _, err := s.AddMemory(testKey, MemoryFact, "secret plans", HintHigh); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	mems, err := s.TopMemories(other, 10)
	if err != nil {
		t.Fatalf("TopMemories: %v", err)
	}
	if len(mems) != 0 {
		t.Errorf("other key saw %d memories, want 0", len(mems))
	}
}

func TestCleanup_RequiresBothThresholds(t *testing.T) {
	s := newTestStore(t)

	// Fresh low-importance memory: too recent to be deleted.
	if _, err := s.AddMemory(testKey, MemoryFact, "meh, whatever", HintMinimal); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	n, err := s.Cleanup(30, 0.5)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 0 {
		t.Errorf("deleted %d fresh memories, want 0", n)
	}

	// With a zero-day horizon everything old enough and unimportant goes.
	n, err = s.Cleanup(0, 0.5)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d memories, want 1", n)
	}
}
