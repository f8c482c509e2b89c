package motion

import "sort"

// Combination is an unordered pair of motion groups.
type Combination struct {
	A string `json:"a"`
	B string `json:"b"`
}

// Conflict is a group pair that must not play simultaneously.
type Conflict struct {
	Combination
	Reason string `json:"reason"`
}

// Plan answers which of a model's motion groups may play at the same
// time. Two groups conflict when both touch the same parameter category.
type Plan struct {
	FaceOnlyGroups []string      `json:"face_only_groups"`
	BodyOnlyGroups []string      `json:"body_only_groups"`
	MixedGroups    []string      `json:"mixed_groups"`
	Safe           []Combination `json:"safe_combinations"`
	Conflicting    []Conflict    `json:"conflicting_combinations"`
}

// Advisory playback priority for clients, highest first. Not enforced.
var PriorityOrder = []string{"expressions", "face_motions", "body_motions", "mixed_motions"}

// groupTouch is a group's aggregated parameter footprint.
type groupTouch struct {
	face bool
	body bool
}

// CompatibilityPlan derives the group compatibility plan from a model's
// analysis. A group touches a category when any member motion animates
// it; mixed motions touch both.
func CompatibilityPlan(ma *ModelAnalysis) Plan {
	touches := make(map[string]groupTouch, len(ma.Groups))
	for group, names := range ma.Groups {
		var t groupTouch
		for _, name := range names {
			switch ma.Motions[name].Category {
			case CategoryFace:
				t.face = true
			case CategoryBody:
				t.body = true
			case CategoryMixed:
				t.face = true
				t.body = true
			}
		}
		touches[group] = t
	}

	groups := make([]string, 0, len(touches))
	for g := range touches {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	var p Plan
	for _, g := range groups {
		t := touches[g]
		switch {
		case t.face && t.body:
			p.MixedGroups = append(p.MixedGroups, g)
		case t.face:
			p.FaceOnlyGroups = append(p.FaceOnlyGroups, g)
		case t.body:
			p.BodyOnlyGroups = append(p.BodyOnlyGroups, g)
		}
	}

	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			a, b := touches[groups[i]], touches[groups[j]]
			pair := Combination{A: groups[i], B: groups[j]}
			switch {
			case a.face && b.face && a.body && b.body:
				p.Conflicting = append(p.Conflicting, Conflict{pair, "both animate face and body parameters"})
			case a.face && b.face:
				p.Conflicting = append(p.Conflicting, Conflict{pair, "both animate face parameters"})
			case a.body && b.body:
				p.Conflicting = append(p.Conflicting, Conflict{pair, "both animate body parameters"})
			default:
				p.Safe = append(p.Safe, pair)
			}
		}
	}
	return p
}
