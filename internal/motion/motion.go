// Package motion analyzes Live2D motion files and answers which motion
// groups an avatar can play simultaneously. For each motion it inspects
// the parameter curves of the motion file, classifies the motion as
// facial, body, mixed or unknown, groups motions, and derives a
// compatibility plan of safe and conflicting group combinations.
package motion

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Category classifies which part of the avatar a motion animates.
type Category string

const (
	CategoryFace    Category = "face"
	CategoryBody    Category = "body"
	CategoryMixed   Category = "mixed"
	CategoryUnknown Category = "unknown"
)

// Parameter id substrings, matched against lowercased curve ids.
var (
	facialParams = []string{
		"eye", "brow", "mouth", "tear", "tere", "sweat", "rage",
		"parameye", "parambrow", "parammouth", "paramteary",
	}
	bodyParams = []string{
		"body_angle", "arm", "breath", "hair", "position", "rotation",
		"paramposition", "paramrotation", "paramarm", "parambreath",
	}
)

// Vocabularies for smart grouping of large flat motion sets.
var (
	emotionWords = []string{
		"angry", "sad", "happy", "surprise", "blush", "normal",
		"wink", "trouble", "disgust", "eat", "hawawa",
	}
	motionWords = []string{
		"pose", "tilt", "head", "nod", "shake", "tap", "touch",
		"wave", "point", "gesture", "dance", "jump", "idle",
	}
)

// Analysis is the result of analyzing one motion file.
type Analysis struct {
	Name      string   `json:"name"`
	File      string   `json:"file"`
	Category  Category `json:"category"`
	FaceCount int      `json:"face_count"`
	BodyCount int      `json:"body_count"`
	Group     string   `json:"group"`
}

// motionFile is the subset of the Live2D motion3 format the analyzer
// reads: only curve ids matter.
type motionFile struct {
	Curves []struct {
		Id string `json:"Id"`
	} `json:"Curves"`
}

// AnalyzeFile parses one motion file and classifies it by its parameter
// curves. The group is assigned later, during resolution.
func AnalyzeFile(name, path string) (Analysis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Analysis{}, fmt.Errorf("motion: read %s: %w", path, err)
	}
	var mf motionFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return Analysis{}, fmt.Errorf("motion: parse %s: %w", path, err)
	}

	a := Analysis{Name: name, File: path}
	for _, c := range mf.Curves {
		id := strings.ToLower(c.Id)
		if matchesAny(id, facialParams) {
			a.FaceCount++
		}
		if matchesAny(id, bodyParams) {
			a.BodyCount++
		}
	}
	a.Category = classify(a.FaceCount, a.BodyCount)
	return a, nil
}

func matchesAny(id string, set []string) bool {
	for _, s := range set {
		if strings.Contains(id, s) {
			return true
		}
	}
	return false
}

// classify derives the category from the per-motion parameter counts.
// Deterministic: identical counts always yield the same category.
func classify(face, body int) Category {
	switch {
	case face == 0 && body == 0:
		return CategoryUnknown
	case face > 2*body:
		return CategoryFace
	case body > 2*face:
		return CategoryBody
	default:
		return CategoryMixed
	}
}

// smartGroup derives a group name for one motion of a large flat motion
// set. Emotion words dominate (face_happy); motion words keep the name's
// leading token as a qualifier (adult_tap); anything else falls back to
// a per-category bucket.
func smartGroup(name string, cat Category) string {
	lower := strings.ToLower(name)
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '_' || r == '-' || r == ' ' || r == '.'
	})

	for _, w := range emotionWords {
		if strings.Contains(lower, w) {
			return "face_" + w
		}
	}
	for _, w := range motionWords {
		if !strings.Contains(lower, w) {
			continue
		}
		// Keep a leading qualifier token when the name has one.
		if len(tokens) > 1 && tokens[0] != w {
			return tokens[0] + "_" + w
		}
		return w
	}

	switch cat {
	case CategoryFace:
		return "face_motions"
	case CategoryBody:
		return "body_motions"
	case CategoryMixed:
		return "mixed_motions"
	default:
		return "other"
	}
}
