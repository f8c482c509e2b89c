package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryType classifies what a memory records about the user.
type MemoryType string

const (
	MemoryPreference   MemoryType = "preference"
	MemoryFact         MemoryType = "fact"
	MemoryInterest     MemoryType = "interest"
	MemoryRelationship MemoryType = "relationship"
)

// IsValid reports whether t is a recognised memory type.
func (t MemoryType) IsValid() bool {
	switch t {
	case MemoryPreference, MemoryFact, MemoryInterest, MemoryRelationship:
		return true
	}
	return false
}

// ImportanceHint seeds the importance score of a new memory.
type ImportanceHint string

const (
	HintCritical ImportanceHint = "critical"
	HintHigh     ImportanceHint = "high"
	HintMedium   ImportanceHint = "medium"
	HintLow      ImportanceHint = "low"
	HintMinimal  ImportanceHint = "minimal"
)

// hintScores maps each hint to its base importance. Unknown hints score
// as medium.
var hintScores = map[ImportanceHint]float64{
	HintCritical: 0.9,
	HintHigh:     0.7,
	HintMedium:   0.5,
	HintLow:      0.3,
	HintMinimal:  0.1,
}

// Memory is one weighted long-term memory about a user, scoped to an
// interaction key.
type Memory struct {
	ID           string
	Type         MemoryType
	Topic        string
	Content      string
	Importance   float64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
}

// Salience vocabularies for importance scoring. Matching is
// case-insensitive substring over the content.
var (
	salienceWords    = []string{"love", "important", "family", "secret"}
	lowSalienceWords = []string{"maybe", "whatever"}
)

// stopwords excluded from topic extraction.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "are": {}, "was": {},
	"you": {}, "your": {}, "she": {}, "him": {}, "her": {}, "his": {},
	"they": {}, "them": {}, "this": {}, "that": {}, "with": {},
	"have": {}, "has": {}, "had": {}, "not": {}, "all": {}, "can": {},
	"will": {}, "would": {}, "really": {}, "just": {}, "like": {},
}

// scoreImportance derives a memory's importance in [0.1, 1.0] from its
// hint and content.
func scoreImportance(hint ImportanceHint, content string) float64 {
	score, ok := hintScores[hint]
	if !ok {
		score = hintScores[HintMedium]
	}

	lower := strings.ToLower(content)
	for _, w := range salienceWords {
		if strings.Contains(lower, w) {
			score += 0.1
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	for _, w := range lowSalienceWords {
		if strings.Contains(lower, w) {
			score -= 0.1
		}
	}
	if score < 0.1 {
		score = 0.1
	}
	if len(content) > 100 {
		score += 0.05
		if score > 1.0 {
			score = 1.0
		}
	}
	return score
}

// extractTopic returns the first non-stopword token of length >= 3,
// lowercased, or "general" when the content has none.
func extractTopic(content string) string {
	for _, tok := range strings.Fields(strings.ToLower(content)) {
		tok = strings.Trim(tok, ".,!?;:'\"()")
		if len(tok) < 3 {
			continue
		}
		if _, skip := stopwords[tok]; skip {
			continue
		}
		return tok
	}
	return "general"
}

// AddMemory stores a new memory for the key, scoring its importance from
// the hint and content and deriving the topic from the content. It
// returns the created record.
func (s *Store) AddMemory(key Key, typ MemoryType, content string, hint ImportanceHint) (Memory, error) {
	if err := key.Validate(); err != nil {
		return Memory{}, err
	}
	if !typ.IsValid() {
		return Memory{}, fmt.Errorf("store: add memory: unknown type %q", typ)
	}

	now := time.Now()
	m := Memory{
		ID:           uuid.NewString(),
		Type:         typ,
		Topic:        extractTopic(content),
		Content:      content,
		Importance:   scoreImportance(hint, content),
		CreatedAt:    now,
		LastAccessed: now,
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(
		`INSERT INTO memories (id, user_id, model_id, type, topic, content, importance, created_at, last_accessed, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		m.ID, key.UserID, key.ModelID, string(m.Type), m.Topic, m.Content,
		m.Importance, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return Memory{}, fmt.Errorf("store: add memory: %w", err)
	}
	return m, nil
}

// MemoriesByTopic returns the key's memories on the given topic, most
// important first. Every returned memory has its access count bumped and
// its last-accessed time refreshed.
func (s *Store) MemoriesByTopic(key Key, topic string) ([]Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	mems, err := queryMemories(d,
		`SELECT id, type, topic, content, importance, created_at, last_accessed, access_count
		 FROM memories
		 WHERE user_id = ? AND model_id = ? AND topic = ?
		 ORDER BY importance DESC, access_count DESC`,
		key.UserID, key.ModelID, strings.ToLower(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("store: memories by topic: %w", err)
	}
	if err := touchMemories(d, mems); err != nil {
		return nil, fmt.Errorf("store: memories by topic: %w", err)
	}
	return mems, nil
}

// TopMemories returns the key's k most important memories, ordered by
// (importance, access count) descending. Access counts are bumped.
func (s *Store) TopMemories(key Key, k int) ([]Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	mems, err := queryMemories(d,
		`SELECT id, type, topic, content, importance, created_at, last_accessed, access_count
		 FROM memories
		 WHERE user_id = ? AND model_id = ?
		 ORDER BY importance DESC, access_count DESC
		 LIMIT ?`,
		key.UserID, key.ModelID, k,
	)
	if err != nil {
		return nil, fmt.Errorf("store: top memories: %w", err)
	}
	if err := touchMemories(d, mems); err != nil {
		return nil, fmt.Errorf("store: top memories: %w", err)
	}
	return mems, nil
}

// Cleanup deletes memories that are BOTH older than olderThanDays and
// below minImportance. It is never invoked implicitly; maintenance
// schedules it explicitly. Returns the number of deleted memories.
func (s *Store) Cleanup(olderThanDays int, minImportance float64) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).UnixNano()

	d := s.handle(dbPersonality)
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(
		`DELETE FROM memories WHERE created_at < ? AND importance < ?`,
		cutoff, minImportance,
	)
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: cleanup: %w", err)
	}
	return n, nil
}

// queryMemories runs a memory SELECT. Caller holds d.mu.
func queryMemories(d *database, query string, args ...any) ([]Memory, error) {
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Memory
	for rows.Next() {
		var (
			m            Memory
			typ          string
			createdAt    int64
			lastAccessed int64
		)
		if err := rows.Scan(&m.ID, &typ, &m.Topic, &m.Content, &m.Importance,
			&createdAt, &lastAccessed, &m.AccessCount); err != nil {
			return nil, err
		}
		m.Type = MemoryType(typ)
		m.CreatedAt = time.Unix(0, createdAt)
		m.LastAccessed = time.Unix(0, lastAccessed)
		out = append(out, m)
	}
	return out, rows.Err()
}

// touchMemories bumps access counters for every returned memory and
// mirrors the bump in the returned values. Caller holds d.mu.
func touchMemories(d *database, mems []Memory) error {
	if len(mems) == 0 {
		return nil
	}
	now := time.Now()
	for i := range mems {
		if _, err := d.db.Exec(
			`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
			now.UnixNano(), mems[i].ID,
		); err != nil {
			return err
		}
		mems[i].AccessCount++
		mems[i].LastAccessed = now
	}
	return nil
}
