package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PutMotionAnalysis persists one motion's analysis for an avatar model.
// The analysis is stored as JSON so the motion resolver can rehydrate
// its cache across restarts without re-parsing motion files.
func (s *Store) PutMotionAnalysis(modelID, motionName string, analysis any) error {
	if modelID == "" || motionName == "" {
		return fmt.Errorf("store: put motion analysis: empty model or motion name")
	}
	blob, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("store: put motion analysis: encode: %w", err)
	}

	d := s.handle(dbLive2D)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.Exec(
		`INSERT INTO motion_analyses (model_id, motion_name, analysis, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (model_id, motion_name)
		 DO UPDATE SET analysis = excluded.analysis, created_at = excluded.created_at`,
		modelID, motionName, string(blob), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: put motion analysis: %w", err)
	}
	return nil
}

// MotionAnalysis loads one motion's persisted analysis into out, or
// returns ErrNotFound.
func (s *Store) MotionAnalysis(modelID, motionName string, out any) error {
	d := s.handle(dbLive2D)
	d.mu.Lock()
	defer d.mu.Unlock()

	var blob string
	err := d.db.QueryRow(
		`SELECT analysis FROM motion_analyses WHERE model_id = ? AND motion_name = ?`,
		modelID, motionName,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: motion analysis %s/%s: %w", modelID, motionName, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: motion analysis: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return fmt.Errorf("store: motion analysis: decode: %w", err)
	}
	return nil
}

// MotionAnalyses loads every persisted analysis for a model as raw JSON
// keyed by motion name.
func (s *Store) MotionAnalyses(modelID string) (map[string]json.RawMessage, error) {
	d := s.handle(dbLive2D)
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.db.Query(
		`SELECT motion_name, analysis FROM motion_analyses WHERE model_id = ?`, modelID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: motion analyses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var name, blob string
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, fmt.Errorf("store: motion analyses: %w", err)
		}
		out[name] = json.RawMessage(blob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: motion analyses: %w", err)
	}
	return out, nil
}

// PutHostSnapshot appends one detected host profile snapshot.
func (s *Store) PutHostSnapshot(snapshot any) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("store: put host snapshot: encode: %w", err)
	}

	d := s.handle(dbSystem)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err = d.db.Exec(
		`INSERT INTO host_snapshots (snapshot, created_at) VALUES (?, ?)`,
		string(blob), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: put host snapshot: %w", err)
	}
	return nil
}

// LatestHostSnapshot loads the most recent host profile snapshot into
// out, or returns ErrNotFound when none has been recorded.
func (s *Store) LatestHostSnapshot(out any) error {
	d := s.handle(dbSystem)
	d.mu.Lock()
	defer d.mu.Unlock()

	var blob string
	err := d.db.QueryRow(
		`SELECT snapshot FROM host_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: host snapshot: %w", ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: host snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(blob), out); err != nil {
		return fmt.Errorf("store: host snapshot: decode: %w", err)
	}
	return nil
}
