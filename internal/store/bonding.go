package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Stage names the relationship stage derived from the bond level.
type Stage string

const (
	StageStranger    Stage = "stranger"
	StageAcquaint    Stage = "acquaintance"
	StageFriend      Stage = "friend"
	StageCloseFriend Stage = "close_friend"
	StageBestFriend  Stage = "best_friend"
)

// Bonding is a key's relationship progression. Level and stage are
// derived from XP; trust and affection accrue with every grant.
type Bonding struct {
	XP        int
	Level     int
	Stage     Stage
	Trust     float64
	Affection float64
}

// bondLevel derives the bond level from accumulated XP.
func bondLevel(xp int) int { return xp/100 + 1 }

// stageFor derives the relationship stage from the bond level.
func stageFor(level int) Stage {
	switch {
	case level <= 2:
		return StageStranger
	case level <= 5:
		return StageAcquaint
	case level <= 10:
		return StageFriend
	case level <= 20:
		return StageCloseFriend
	default:
		return StageBestFriend
	}
}

// defaultBonding is the record every key starts from.
func defaultBonding() Bonding {
	return Bonding{XP: 0, Level: 1, Stage: StageStranger, Trust: 0.5, Affection: 0.5}
}

// Bonding returns the key's bonding progress. Keys that have never
// interacted get the default record: level 1, zero XP, stage stranger,
// trust and affection 0.5.
func (s *Store) Bonding(key Key) (Bonding, error) {
	if err := key.Validate(); err != nil {
		return Bonding{}, err
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := readBonding(d, key)
	if errors.Is(err, sql.ErrNoRows) {
		return defaultBonding(), nil
	}
	if err != nil {
		return Bonding{}, fmt.Errorf("store: bonding: %w", err)
	}
	return b, nil
}

// GrantExperience adds xp to the key's bonding record, recomputes the
// level and stage, and raises trust and affection by 0.01 per XP point,
// capped at 1.0. It returns the updated record.
func (s *Store) GrantExperience(key Key, xp int) (Bonding, error) {
	if err := key.Validate(); err != nil {
		return Bonding{}, err
	}
	if xp < 0 {
		return Bonding{}, fmt.Errorf("store: grant experience: negative xp %d", xp)
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := readBonding(d, key)
	if errors.Is(err, sql.ErrNoRows) {
		b = defaultBonding()
	} else if err != nil {
		return Bonding{}, fmt.Errorf("store: grant experience: %w", err)
	}

	b.XP += xp
	b.Level = bondLevel(b.XP)
	b.Stage = stageFor(b.Level)
	b.Trust = clamp01(b.Trust + 0.01*float64(xp))
	b.Affection = clamp01(b.Affection + 0.01*float64(xp))

	_, err = d.db.Exec(
		`INSERT INTO bonding (user_id, model_id, xp, bond_level, stage, trust, affection)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, model_id)
		 DO UPDATE SET xp = excluded.xp, bond_level = excluded.bond_level,
		               stage = excluded.stage, trust = excluded.trust,
		               affection = excluded.affection`,
		key.UserID, key.ModelID, b.XP, b.Level, string(b.Stage), b.Trust, b.Affection,
	)
	if err != nil {
		return Bonding{}, fmt.Errorf("store: grant experience: %w", err)
	}
	return b, nil
}

// readBonding reads the key's bonding row. Caller holds d.mu.
func readBonding(d *database, key Key) (Bonding, error) {
	var (
		b     Bonding
		stage string
	)
	err := d.db.QueryRow(
		`SELECT xp, bond_level, stage, trust, affection FROM bonding
		 WHERE user_id = ? AND model_id = ?`,
		key.UserID, key.ModelID,
	).Scan(&b.XP, &b.Level, &stage, &b.Trust, &b.Affection)
	if err != nil {
		return Bonding{}, err
	}
	b.Stage = Stage(stage)
	return b, nil
}
