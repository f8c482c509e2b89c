package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testKey = Key{UserID: "user-1", ModelID: "miku"}

func TestOpen_CreatesOneFilePerLogicalDatabase(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for _, name := range []string{
		"conversations", "personality", "live2d", "system",
		"users", "user_profiles", "user_sessions", "app_state",
	} {
		path := filepath.Join(dir, "databases", name+".db")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing database file %s: %v", name, err)
		}
	}
	if err := s.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestKey_Validate(t *testing.T) {
	cases := []struct {
		key  Key
		want bool
	}{
		{Key{UserID: "u", ModelID: "m"}, true},
		{Key{UserID: "u"}, false},
		{Key{ModelID: "m"}, false},
		{Key{}, false},
	}
	for _, c := range cases {
		err := c.key.Validate()
		if c.want && err != nil {
			t.Errorf("Validate(%v) = %v, want nil", c.key, err)
		}
		if !c.want && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Validate(%v) = %v, want ErrInvalidKey", c.key, err)
		}
	}
}

func TestStore_RejectsPartialKeys(t *testing.T) {
	s := newTestStore(t)
	half := Key{UserID: "user-1"}

	if _, err := s.AppendMessage(half, RoleUser, "hi", "", 0); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("AppendMessage: err = %v, want ErrInvalidKey", err)
	}
	if _, err := s.RecentMessages(half, 10); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("RecentMessages: err = %v, want ErrInvalidKey", err)
	}
	if _, err := s.AddMemory(half, MemoryFact, "x", HintMedium); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("AddMemory: err = %v, want ErrInvalidKey", err)
	}
	if _, err := s.Bonding(half); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Bonding: err = %v, want ErrInvalidKey", err)
	}
	if _, err := s.Personality(half); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Personality: err = %v, want ErrInvalidKey", err)
	}
	if _, err := s.AvatarState(half); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("AvatarState: err = %v, want ErrInvalidKey", err)
	}
}

func TestAppendMessage_OrderedAndChronological(t *testing.T) {
	s := newTestStore(t)

	texts := []string{"first", "second", "third", "fourth"}
	for i, txt := range texts {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := s.AppendMessage(testKey, role, txt, "", 0); err != nil {
			t.Fatalf("AppendMessage %d: %v", i, err)
		}
	}

	msgs, err := s.RecentMessages(testKey, 3)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Newest last, window covers the most recent three.
	for i, want := range []string{"second", "third", "fourth"} {
		if msgs[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, msgs[i].Content, want)
		}
	}
	if msgs[2].Role != RoleAssistant {
		t.Errorf("last role = %q, want assistant", msgs[2].Role)
	}
}

func TestAppendMessage_RejectsUnknownRole(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendMessage(testKey, Role("system"), "x", "", 0); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestMessages_IsolatedPerKey(t *testing.T) {
	s := newTestStore(t)
	other := Key{UserID: "user-2", ModelID: "miku"}
	otherModel := Key{UserID: "user-1", ModelID: "rin"}

	if _, err := s.AppendMessage(testKey, RoleUser, "mine", "", 0); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := s.AppendMessage(other, RoleUser, "theirs", "", 0); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.RecentMessages(testKey, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "mine" {
		t.Errorf("key saw %d messages %v, want only its own", len(msgs), msgs)
	}

	// Same user, different avatar: a fresh history.
	msgs, err = s.RecentMessages(otherModel, 10)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("different model key saw %d messages, want 0", len(msgs))
	}
}

func TestSessionContext_AtomicReplace(t *testing.T) {
	s := newTestStore(t)

	first := []Message{{ID: "a", Role: RoleUser, Content: "hi", Time: time.Now()}}
	if err := s.PutSessionContext(testKey, "sess-1", first); err != nil {
		t.Fatalf("PutSessionContext: %v", err)
	}
	second := []Message{
		{ID: "a", Role: RoleUser, Content: "hi"},
		{ID: "b", Role: RoleAssistant, Content: "hello!"},
	}
	if err := s.PutSessionContext(testKey, "sess-1", second); err != nil {
		t.Fatalf("PutSessionContext replace: %v", err)
	}

	sc, err := s.SessionContext(testKey, "sess-1")
	if err != nil {
		t.Fatalf("SessionContext: %v", err)
	}
	if len(sc.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (replaced wholesale)", len(sc.Messages))
	}
	if sc.Messages[1].Content != "hello!" {
		t.Errorf("second message = %q, want hello!", sc.Messages[1].Content)
	}

	if _, err := s.SessionContext(testKey, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing session err = %v, want ErrNotFound", err)
	}

	if err := s.DeleteSessionContext(testKey, "sess-1"); err != nil {
		t.Fatalf("DeleteSessionContext: %v", err)
	}
	if _, err := s.SessionContext(testKey, "sess-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session err = %v, want ErrNotFound", err)
	}
}

func TestAppState_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.SetAppState("schema_version", "1"); err != nil {
		t.Fatalf("SetAppState: %v", err)
	}
	if err := s.SetAppState("schema_version", "2"); err != nil {
		t.Fatalf("SetAppState overwrite: %v", err)
	}
	v, err := s.AppState("schema_version")
	if err != nil {
		t.Fatalf("AppState: %v", err)
	}
	if v != "2" {
		t.Errorf("value = %q, want 2", v)
	}
	if _, err := s.AppState("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key err = %v, want ErrNotFound", err)
	}
}

func TestUsersAndProfiles_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertUser("user-1", "Aki"); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	u, err := s.User("user-1")
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	if u.DisplayName != "Aki" {
		t.Errorf("display name = %q, want Aki", u.DisplayName)
	}

	p := Profile{AgeRange: "18-25", Language: "en", Preferences: map[string]string{"topics": "music"}}
	if err := s.PutProfile("user-1", p); err != nil {
		t.Fatalf("PutProfile: %v", err)
	}
	got, err := s.Profile("user-1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if got.Language != "en" || got.Preferences["topics"] != "music" {
		t.Errorf("profile = %+v, want %+v", got, p)
	}

	if _, err := s.User("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing user err = %v, want ErrNotFound", err)
	}
}

func TestMotionAnalyses_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	type analysis struct {
		Type    string   `json:"type"`
		Emotion string   `json:"emotion"`
		Params  []string `json:"params"`
	}
	in := analysis{Type: "facial", Emotion: "happy", Params: []string{"ParamEyeLOpen"}}
	if err := s.PutMotionAnalysis("miku", "smile", in); err != nil {
		t.Fatalf("PutMotionAnalysis: %v", err)
	}

	var out analysis
	if err := s.MotionAnalysis("miku", "smile", &out); err != nil {
		t.Fatalf("MotionAnalysis: %v", err)
	}
	if out.Emotion != "happy" || len(out.Params) != 1 {
		t.Errorf("analysis = %+v, want %+v", out, in)
	}

	all, err := s.MotionAnalyses("miku")
	if err != nil {
		t.Fatalf("MotionAnalyses: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("got %d analyses, want 1", len(all))
	}
	if err := s.MotionAnalysis("miku", "missing", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing analysis err = %v, want ErrNotFound", err)
	}
}

func TestHostSnapshot_LatestWins(t *testing.T) {
	s := newTestStore(t)

	type snap struct {
		Tier string `json:"tier"`
	}
	if err := s.PutHostSnapshot(snap{Tier: "low"}); err != nil {
		t.Fatalf("PutHostSnapshot: %v", err)
	}
	if err := s.PutHostSnapshot(snap{Tier: "high"}); err != nil {
		t.Fatalf("PutHostSnapshot: %v", err)
	}

	var got snap
	if err := s.LatestHostSnapshot(&got); err != nil {
		t.Fatalf("LatestHostSnapshot: %v", err)
	}
	if got.Tier != "high" {
		t.Errorf("tier = %q, want high (latest)", got.Tier)
	}
}
