package convo

import (
	"strings"

	"github.com/kagami-sh/kagami/internal/store"
)

// Sentiment word lists. Matching is case-insensitive over whole tokens.
var (
	positiveWords = map[string]struct{}{
		"love": {}, "like": {}, "great": {}, "awesome": {}, "happy": {},
		"thanks": {}, "thank": {}, "wonderful": {}, "amazing": {},
		"fun": {}, "nice": {}, "cool": {}, "good": {}, "glad": {},
	}
	negativeWords = map[string]struct{}{
		"hate": {}, "sad": {}, "angry": {}, "terrible": {}, "awful": {},
		"annoying": {}, "stupid": {}, "bad": {}, "tired": {}, "upset": {},
		"horrible": {}, "worst": {}, "lonely": {},
	}
)

// sentiment scores the input as positive (> 0), negative (< 0), or
// neutral (0) by counting matched sentiment words.
func sentiment(input string) int {
	score := 0
	for _, tok := range tokens(input) {
		if _, ok := positiveWords[tok]; ok {
			score++
		}
		if _, ok := negativeWords[tok]; ok {
			score--
		}
	}
	return score
}

// tokens lowercases and splits the input on non-letter boundaries.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '\''
	})
}

// memoryCue is one long-term memory extracted from user input.
type memoryCue struct {
	Type    store.MemoryType
	Content string
	Hint    store.ImportanceHint
}

// cuePatterns maps self-disclosure phrasings to memory types. First
// match per type wins; the whole utterance becomes the memory content.
var cuePatterns = []struct {
	prefixes []string
	typ      store.MemoryType
	hint     store.ImportanceHint
}{
	{[]string{"i love", "my favorite", "my favourite"}, store.MemoryPreference, store.HintHigh},
	{[]string{"i like", "i prefer", "i don't like", "i hate"}, store.MemoryPreference, store.HintMedium},
	{[]string{"i enjoy", "i play", "my hobby"}, store.MemoryInterest, store.HintMedium},
	{[]string{"my mom", "my dad", "my mother", "my father", "my sister", "my brother", "my friend", "my wife", "my husband"}, store.MemoryRelationship, store.HintHigh},
	{[]string{"my name is", "i am ", "i'm ", "i work", "i live", "my birthday"}, store.MemoryFact, store.HintMedium},
}

// memoryCues scans user input for self-disclosures worth remembering.
// At most one cue per memory type is produced for a single utterance.
func memoryCues(input string) []memoryCue {
	lower := strings.ToLower(input)
	seen := make(map[store.MemoryType]bool)
	var cues []memoryCue
	for _, p := range cuePatterns {
		if seen[p.typ] {
			continue
		}
		for _, prefix := range p.prefixes {
			if strings.Contains(lower, prefix) {
				cues = append(cues, memoryCue{Type: p.typ, Content: input, Hint: p.hint})
				seen[p.typ] = true
				break
			}
		}
	}
	return cues
}

// deriveEmotion picks the reply's emotion label from the avatar state
// and the turn's sentiment.
func deriveEmotion(av store.AvatarState, sent int) string {
	switch {
	case sent > 0:
		return "happy"
	case sent < 0:
		return "concerned"
	case av.Happiness > 0.8:
		return "happy"
	default:
		return "neutral"
	}
}

// adjustAvatar nudges the avatar state for the turn's sentiment.
// Positive input lifts happiness and energy; negative input lowers
// happiness and turns the mood concerned. Neutral input changes nothing.
func adjustAvatar(av store.AvatarState, sent int) (store.AvatarState, bool) {
	switch {
	case sent > 0:
		av.Happiness += 0.05
		av.Energy += 0.05
		return av, true
	case sent < 0:
		av.Happiness -= 0.05
		av.Mood = "concerned"
		return av, true
	default:
		return av, false
	}
}
