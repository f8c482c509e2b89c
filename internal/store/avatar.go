package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// AvatarState is the avatar's continuously nudged emotional state for
// one interaction key.
type AvatarState struct {
	Mood      string
	Energy    float64
	Happiness float64
	Stress    float64
}

// defaultAvatarState is the state every key starts from.
func defaultAvatarState() AvatarState {
	return AvatarState{Mood: "neutral", Energy: 0.7, Happiness: 0.7, Stress: 0.2}
}

// AvatarState returns the key's avatar emotional state, defaulting to a
// neutral mood for keys that have never interacted.
func (s *Store) AvatarState(key Key) (AvatarState, error) {
	if err := key.Validate(); err != nil {
		return AvatarState{}, err
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	var st AvatarState
	err := d.db.QueryRow(
		`SELECT mood, energy, happiness, stress FROM avatar_state
		 WHERE user_id = ? AND model_id = ?`,
		key.UserID, key.ModelID,
	).Scan(&st.Mood, &st.Energy, &st.Happiness, &st.Stress)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultAvatarState(), nil
	}
	if err != nil {
		return AvatarState{}, fmt.Errorf("store: avatar state: %w", err)
	}
	return st, nil
}

// UpdateAvatarState replaces the key's avatar state. Scalar fields are
// clamped to [0,1].
func (s *Store) UpdateAvatarState(key Key, st AvatarState) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if st.Mood == "" {
		st.Mood = "neutral"
	}
	st.Energy = clamp01(st.Energy)
	st.Happiness = clamp01(st.Happiness)
	st.Stress = clamp01(st.Stress)

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(
		`INSERT INTO avatar_state (user_id, model_id, mood, energy, happiness, stress)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, model_id)
		 DO UPDATE SET mood = excluded.mood, energy = excluded.energy,
		               happiness = excluded.happiness, stress = excluded.stress`,
		key.UserID, key.ModelID, st.Mood, st.Energy, st.Happiness, st.Stress,
	)
	if err != nil {
		return fmt.Errorf("store: update avatar state: %w", err)
	}
	return nil
}
