package convo

import (
	"strings"
	"testing"

	"github.com/kagami-sh/kagami/internal/store"
)

func TestDescribeTraits_ThresholdsOnly(t *testing.T) {
	desc := describeTraits(map[string]float64{
		"cheerful": 0.9,
		"shy":      0.1,
		"curious":  0.5,
	})
	if !strings.Contains(desc, "very cheerful") {
		t.Errorf("desc = %q, want 'very cheerful'", desc)
	}
	if !strings.Contains(desc, "not shy") {
		t.Errorf("desc = %q, want 'not shy'", desc)
	}
	if strings.Contains(desc, "curious") {
		t.Errorf("desc = %q, mid-band trait should stay implicit", desc)
	}
}

func TestRenderPersona_IncludesStateAndMemories(t *testing.T) {
	tc := turnContext{
		personality: map[string]float64{"playful": 0.8},
		bonding:     store.Bonding{XP: 500, Level: 6, Stage: store.StageFriend, Trust: 0.75},
		avatar:      store.AvatarState{Mood: "happy", Energy: 0.9, Happiness: 0.8},
		memories: []store.Memory{
			{Type: store.MemoryPreference, Content: "loves pizza"},
			{Type: store.MemoryFact, Content: "works night shifts"},
		},
	}

	p := renderPersona("miku", tc, 5)
	for _, want := range []string{
		"You are miku",
		"very playful",
		"Mood: happy",
		"friend (bond level 6)",
		"Preferences:",
		"- loves pizza",
		"Facts:",
		"- works night shifts",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("persona missing %q:\n%s", want, p)
		}
	}
}

func TestRenderTranscript_EndsWithCue(t *testing.T) {
	msgs := []store.Message{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "hi!"},
	}
	got := renderTranscript(msgs, "how are you?")
	want := "Human: hello\nAssistant: hi!\nHuman: how are you?\nAssistant:"
	if got != want {
		t.Errorf("transcript = %q, want %q", got, want)
	}
}

func TestFingerprint_StableAndWhitespaceInsensitive(t *testing.T) {
	msgs := []store.Message{{Role: store.RoleUser, Content: "hello there"}}

	a := fingerprint("persona", msgs, "how are you?")
	b := fingerprint("persona", msgs, "how   are\n\tyou?")
	if a != b {
		t.Error("whitespace variations should fingerprint identically")
	}
	if c := fingerprint("persona", msgs, "how are you!"); c == a {
		t.Error("different input should fingerprint differently")
	}
	if d := fingerprint("other persona", msgs, "how are you?"); d == a {
		t.Error("different persona should fingerprint differently")
	}
}

func TestPostProcess_StripsRoleLabels(t *testing.T) {
	cases := map[string]string{
		"Assistant: Hello!":        "Hello!",
		"Assistant: Human: Hello!": "Hello!",
		"  Hello!  ":               "Hello!",
		"AI: sure thing":           "sure thing",
	}
	for in, want := range cases {
		if got := postProcess(in); got != want {
			t.Errorf("postProcess(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPostProcess_TruncatesAtSentence(t *testing.T) {
	long := strings.Repeat("word ", 95) + "end of sentence. " + strings.Repeat("tail ", 40)
	got := postProcess(long)
	if len(got) > maxResponseLen {
		t.Fatalf("len = %d, want <= %d", len(got), maxResponseLen)
	}
	if !strings.HasSuffix(got, "end of sentence.") {
		t.Errorf("got %q, want a cut at the last sentence boundary", got[max(0, len(got)-40):])
	}
}

func TestSentiment(t *testing.T) {
	if s := sentiment("I love this, it's great"); s <= 0 {
		t.Errorf("positive input scored %d", s)
	}
	if s := sentiment("what a terrible awful mess"); s >= 0 {
		t.Errorf("negative input scored %d", s)
	}
	if s := sentiment("the weather is cloudy"); s != 0 {
		t.Errorf("neutral input scored %d", s)
	}
}

func TestMemoryCues(t *testing.T) {
	cues := memoryCues("I love pizza and I work as a nurse")
	types := make(map[store.MemoryType]bool)
	for _, c := range cues {
		types[c.Type] = true
	}
	if !types[store.MemoryPreference] {
		t.Error("expected a preference cue")
	}
	if !types[store.MemoryFact] {
		t.Error("expected a fact cue")
	}
	if len(memoryCues("nice weather today")) != 0 {
		t.Error("small talk should produce no cues")
	}
}
