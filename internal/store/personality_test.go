package store

import (
	"testing"
)

func TestPersonality_FallsBackToTemplate(t *testing.T) {
	s := newTestStore(t)

	err := s.RegisterTemplate("miku", map[string]float64{
		"cheerfulness": 0.8,
		"shyness":      0.3,
	})
	if err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	traits, err := s.Personality(testKey)
	if err != nil {
		t.Fatalf("Personality: %v", err)
	}
	if !almostEqual(traits["cheerfulness"], 0.8) || !almostEqual(traits["shyness"], 0.3) {
		t.Errorf("traits = %v, want template values", traits)
	}
}

func TestAdaptTrait_ClampsAndLogsAppliedDelta(t *testing.T) {
	s := newTestStore(t)

	if err := s.RegisterTemplate("miku", map[string]float64{"cheerfulness": 0.8}); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	// Requested +0.5 from 0.8 clamps at 1.0; the log carries +0.2.
	got, err := s.AdaptTrait(testKey, "cheerfulness", 0.5, "user praised her singing")
	if err != nil {
		t.Fatalf("AdaptTrait: %v", err)
	}
	if !almostEqual(got, 1.0) {
		t.Errorf("current = %v, want 1.0", got)
	}

	log, err := s.TraitLog(testKey, "cheerfulness")
	if err != nil {
		t.Fatalf("TraitLog: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("log has %d entries, want 1", len(log))
	}
	if !almostEqual(log[0].Delta, 0.2) {
		t.Errorf("logged delta = %v, want 0.2 (applied, not requested)", log[0].Delta)
	}
	if log[0].Reason != "user praised her singing" {
		t.Errorf("reason = %q", log[0].Reason)
	}

	// Adapted value overrides the template; base stays visible per key.
	traits, err := s.Personality(testKey)
	if err != nil {
		t.Fatalf("Personality: %v", err)
	}
	if !almostEqual(traits["cheerfulness"], 1.0) {
		t.Errorf("current after adapt = %v, want 1.0", traits["cheerfulness"])
	}

	// Negative clamp at zero.
	got, err = s.AdaptTrait(testKey, "cheerfulness", -2.0, "harsh words")
	if err != nil {
		t.Fatalf("AdaptTrait down: %v", err)
	}
	if !almostEqual(got, 0.0) {
		t.Errorf("current = %v, want 0.0", got)
	}
}

func TestAdaptTrait_UnknownTraitStartsNeutral(t *testing.T) {
	s := newTestStore(t)

	got, err := s.AdaptTrait(testKey, "patience", 0.1, "waited politely")
	if err != nil {
		t.Fatalf("AdaptTrait: %v", err)
	}
	if !almostEqual(got, 0.6) {
		t.Errorf("current = %v, want 0.6 (0.5 neutral + 0.1)", got)
	}
}

func TestAdaptTrait_IsolatedPerKey(t *testing.T) {
	s := newTestStore(t)
	other := Key{UserID: "user-2", ModelID: "miku"}

	if err := s.RegisterTemplate("miku", map[string]float64{"shyness": 0.3}); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}
	if _, err := s.AdaptTrait(testKey, "shyness", 0.4, "opened up"); err != nil {
		t.Fatalf("AdaptTrait: %v", err)
	}

	traits, err := s.Personality(other)
	if err != nil {
		t.Fatalf("Personality: %v", err)
	}
	if !almostEqual(traits["shyness"], 0.3) {
		t.Errorf("other key shyness = %v, want template 0.3", traits["shyness"])
	}
}

func TestBonding_DefaultRecord(t *testing.T) {
	s := newTestStore(t)

	b, err := s.Bonding(testKey)
	if err != nil {
		t.Fatalf("Bonding: %v", err)
	}
	want := Bonding{XP: 0, Level: 1, Stage: StageStranger, Trust: 0.5, Affection: 0.5}
	if b != want {
		t.Errorf("default bonding = %+v, want %+v", b, want)
	}
}

func TestGrantExperience_ProgressionFormula(t *testing.T) {
	s := newTestStore(t)

	// Ten grants of 50 XP: 500 XP total, level 6, stage friend, trust and
	// affection saturated at 1.0.
	for range 10 {
		if _, err := s.GrantExperience(testKey, 50); err != nil {
			t.Fatalf("GrantExperience: %v", err)
		}
	}

	b, err := s.Bonding(testKey)
	if err != nil {
		t.Fatalf("Bonding: %v", err)
	}
	if b.XP != 500 {
		t.Errorf("xp = %d, want 500", b.XP)
	}
	if b.Level != 6 {
		t.Errorf("level = %d, want 6", b.Level)
	}
	if b.Stage != StageFriend {
		t.Errorf("stage = %q, want friend", b.Stage)
	}
	if !almostEqual(b.Trust, 1.0) || !almostEqual(b.Affection, 1.0) {
		t.Errorf("trust/affection = %v/%v, want 1.0/1.0", b.Trust, b.Affection)
	}
}

func TestStageThresholds(t *testing.T) {
	cases := []struct {
		xp   int
		want Stage
	}{
		{0, StageStranger},      // level 1
		{199, StageStranger},    // level 2
		{200, StageAcquaint},    // level 3
		{499, StageAcquaint},    // level 5
		{500, StageFriend},      // level 6
		{999, StageFriend},      // level 10
		{1000, StageCloseFriend}, // level 11
		{1999, StageCloseFriend}, // level 20
		{2000, StageBestFriend}, // level 21
	}
	for _, c := range cases {
		if got := stageFor(bondLevel(c.xp)); got != c.want {
			t.Errorf("stage at %d xp = %q, want %q", c.xp, got, c.want)
		}
	}
}

func TestGrantExperience_IsolatedPerKey(t *testing.T) {
	s := newTestStore(t)
	other := Key{UserID: "user-2", ModelID: "miku"}

	if _, err := s.GrantExperience(testKey, 250); err != nil {
		t.Fatalf("GrantExperience: %v", err)
	}
	b, err := s.Bonding(other)
	if err != nil {
		t.Fatalf("Bonding: %v", err)
	}
	if b.XP != 0 || b.Level != 1 {
		t.Errorf("other key bonding = %+v, want pristine default", b)
	}
}

func TestAvatarState_DefaultAndUpdate(t *testing.T) {
	s := newTestStore(t)

	st, err := s.AvatarState(testKey)
	if err != nil {
		t.Fatalf("AvatarState: %v", err)
	}
	want := AvatarState{Mood: "neutral", Energy: 0.7, Happiness: 0.7, Stress: 0.2}
	if st != want {
		t.Errorf("default state = %+v, want %+v", st, want)
	}

	// Out-of-range values clamp on write.
	err = s.UpdateAvatarState(testKey, AvatarState{Mood: "excited", Energy: 1.4, Happiness: 0.9, Stress: -0.3})
	if err != nil {
		t.Fatalf("UpdateAvatarState: %v", err)
	}
	st, err = s.AvatarState(testKey)
	if err != nil {
		t.Fatalf("AvatarState: %v", err)
	}
	if st.Mood != "excited" || !almostEqual(st.Energy, 1.0) || !almostEqual(st.Stress, 0.0) {
		t.Errorf("state after update = %+v", st)
	}
}
