package convo

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/kagami-sh/kagami/internal/store"
)

// maxResponseLen is the post-processing cut-off for rambling replies.
const maxResponseLen = 500

// memoryHeaders orders and titles the prompt's memory section.
var memoryHeaders = []struct {
	typ   store.MemoryType
	title string
}{
	{store.MemoryPreference, "Preferences"},
	{store.MemoryFact, "Facts"},
	{store.MemoryInterest, "Interests"},
	{store.MemoryRelationship, "Relationships"},
}

// renderPersona builds the system section of the prompt: identity,
// personality in natural language, emotional state, relationship, and
// the key's most important memories.
func renderPersona(modelID string, tc turnContext, memoryDepth int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, a virtual companion. Stay in character and keep replies short and conversational.\n", modelID)

	if desc := describeTraits(tc.personality); desc != "" {
		fmt.Fprintf(&sb, "Personality: %s.\n", desc)
	}
	fmt.Fprintf(&sb, "Mood: %s. Energy %.1f, happiness %.1f, trust %.2f.\n",
		tc.avatar.Mood, tc.avatar.Energy, tc.avatar.Happiness, tc.bonding.Trust)
	fmt.Fprintf(&sb, "Relationship: %s (bond level %d).\n", tc.bonding.Stage, tc.bonding.Level)

	if lines := describeMemories(tc.memories, memoryDepth); lines != "" {
		sb.WriteString("What you remember about them:\n")
		sb.WriteString(lines)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// describeTraits renders trait values to natural language. Only
// pronounced traits make it into the prompt: above 0.7 the trait is
// emphasised, below 0.3 it is negated, the middle band stays implicit.
func describeTraits(traits map[string]float64) string {
	names := make([]string, 0, len(traits))
	for name := range traits {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		switch v := traits[name]; {
		case v > 0.7:
			parts = append(parts, "very "+name)
		case v < 0.3:
			parts = append(parts, "not "+name)
		}
	}
	return strings.Join(parts, ", ")
}

// describeMemories renders up to limit memories grouped by type.
func describeMemories(mems []store.Memory, limit int) string {
	if limit > 0 && len(mems) > limit {
		mems = mems[:limit]
	}
	byType := make(map[store.MemoryType][]store.Memory)
	for _, m := range mems {
		byType[m.Type] = append(byType[m.Type], m)
	}

	var sb strings.Builder
	for _, h := range memoryHeaders {
		group := byType[h.typ]
		if len(group) == 0 {
			continue
		}
		sb.WriteString(h.title + ":\n")
		for _, m := range group {
			sb.WriteString("- " + m.Content + "\n")
		}
	}
	return sb.String()
}

// renderTranscript renders the recent exchanges and the new input as
// Human/Assistant lines, ending with the cue the model completes.
func renderTranscript(msgs []store.Message, input string) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString(roleLabel(m.Role) + " " + m.Content + "\n")
	}
	sb.WriteString("Human: " + input + "\n")
	sb.WriteString("Assistant:")
	return sb.String()
}

func roleLabel(r store.Role) string {
	if r == store.RoleAssistant {
		return "Assistant:"
	}
	return "Human:"
}

// fingerprint hashes the normalized prompt input: the persona section,
// the trailing exchanges, and the new user input with all whitespace
// collapsed. Identical context and input always produce the same hash.
func fingerprint(persona string, msgs []store.Message, input string) string {
	h := sha256.New()
	h.Write([]byte(normalize(persona)))
	h.Write([]byte{'\n'})
	for _, m := range msgs {
		h.Write([]byte(normalize(string(m.Role) + ": " + m.Content)))
		h.Write([]byte{'\n'})
	}
	h.Write([]byte(normalize(input)))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize collapses all whitespace runs to single spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// postProcess cleans one raw completion: leading role labels are
// stripped and overlong replies are cut at the last sentence boundary
// inside the limit.
func postProcess(text string) string {
	text = strings.TrimSpace(text)
	for {
		stripped := false
		for _, label := range []string{"Assistant:", "Human:", "AI:"} {
			if rest, ok := strings.CutPrefix(text, label); ok {
				text = strings.TrimSpace(rest)
				stripped = true
			}
		}
		if !stripped {
			break
		}
	}

	if len(text) > maxResponseLen {
		cut := text[:maxResponseLen]
		if i := strings.LastIndexByte(cut, '.'); i > 0 {
			cut = cut[:i+1]
		}
		text = strings.TrimSpace(cut)
	}
	return text
}
