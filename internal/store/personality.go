package store

import (
	"fmt"
	"time"
)

// TraitAdjustment is one entry in a key's personality adaptation log. The
// Delta is the applied (post-clamp) change, not the requested one.
type TraitAdjustment struct {
	Trait  string
	Delta  float64
	Reason string
	Time   time.Time
}

// RegisterTemplate stores or replaces the base personality template for
// an avatar model. Base values are clamped to [0,1]. Existing per-key
// adapted traits are untouched; the template only seeds keys that have
// not adapted yet.
func (s *Store) RegisterTemplate(modelID string, traits map[string]float64) error {
	if modelID == "" {
		return fmt.Errorf("store: register template: empty model id")
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("store: register template: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM model_templates WHERE model_id = ?`, modelID); err != nil {
		return fmt.Errorf("store: register template: %w", err)
	}
	for trait, base := range traits {
		if _, err := tx.Exec(
			`INSERT INTO model_templates (model_id, trait, base_value) VALUES (?, ?, ?)`,
			modelID, trait, clamp01(base),
		); err != nil {
			return fmt.Errorf("store: register template: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: register template: %w", err)
	}
	return nil
}

// Personality returns the key's current trait values. Traits the key has
// never adapted fall through to the model's template base values.
func (s *Store) Personality(key Key) (map[string]float64, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	traits := make(map[string]float64)

	rows, err := d.db.Query(
		`SELECT trait, base_value FROM model_templates WHERE model_id = ?`,
		key.ModelID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: personality: %w", err)
	}
	for rows.Next() {
		var (
			trait string
			base  float64
		)
		if err := rows.Scan(&trait, &base); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: personality: %w", err)
		}
		traits[trait] = base
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("store: personality: %w", err)
	}
	rows.Close()

	// Adapted values override the template.
	rows, err = d.db.Query(
		`SELECT trait, current_value FROM traits WHERE user_id = ? AND model_id = ?`,
		key.UserID, key.ModelID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: personality: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			trait   string
			current float64
		)
		if err := rows.Scan(&trait, &current); err != nil {
			return nil, fmt.Errorf("store: personality: %w", err)
		}
		traits[trait] = current
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: personality: %w", err)
	}
	return traits, nil
}

// AdaptTrait shifts one trait for the key by delta, clamped to [0,1],
// and logs the applied (post-clamp) delta with the reason. The trait's
// base value is seeded from the model template on first adaptation and
// never changes afterwards. It returns the new current value.
func (s *Store) AdaptTrait(key Key, trait string, delta float64, reason string) (float64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if trait == "" {
		return 0, fmt.Errorf("store: adapt trait: empty trait name")
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("store: adapt trait: %w", err)
	}
	defer tx.Rollback()

	var base, current float64
	err = tx.QueryRow(
		`SELECT base_value, current_value FROM traits WHERE user_id = ? AND model_id = ? AND trait = ?`,
		key.UserID, key.ModelID, trait,
	).Scan(&base, &current)
	if err != nil {
		// First adaptation: seed from the template; a trait absent from
		// the template starts neutral.
		base = 0.5
		if terr := tx.QueryRow(
			`SELECT base_value FROM model_templates WHERE model_id = ? AND trait = ?`,
			key.ModelID, trait,
		).Scan(&base); terr != nil {
			base = 0.5
		}
		current = base
	}

	next := clamp01(current + delta)
	applied := next - current

	if _, err := tx.Exec(
		`INSERT INTO traits (user_id, model_id, trait, base_value, current_value, last_reason)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, model_id, trait)
		 DO UPDATE SET current_value = excluded.current_value, last_reason = excluded.last_reason`,
		key.UserID, key.ModelID, trait, base, next, reason,
	); err != nil {
		return 0, fmt.Errorf("store: adapt trait: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO trait_log (user_id, model_id, trait, delta, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key.UserID, key.ModelID, trait, applied, reason, time.Now().UnixNano(),
	); err != nil {
		return 0, fmt.Errorf("store: adapt trait: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: adapt trait: %w", err)
	}
	return next, nil
}

// TraitLog returns the key's adaptation history for one trait, oldest
// first.
func (s *Store) TraitLog(key Key, trait string) ([]TraitAdjustment, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(
		`SELECT trait, delta, reason, created_at FROM trait_log
		 WHERE user_id = ? AND model_id = ? AND trait = ?
		 ORDER BY id`,
		key.UserID, key.ModelID, trait,
	)
	if err != nil {
		return nil, fmt.Errorf("store: trait log: %w", err)
	}
	defer rows.Close()

	var out []TraitAdjustment
	for rows.Next() {
		var (
			adj       TraitAdjustment
			createdAt int64
		)
		if err := rows.Scan(&adj.Trait, &adj.Delta, &adj.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("store: trait log: %w", err)
		}
		adj.Time = time.Unix(0, createdAt)
		out = append(out, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: trait log: %w", err)
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
