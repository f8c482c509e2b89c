package config_test

import (
	"strings"
	"testing"

	"github.com/kagami-sh/kagami/internal/config"
)

func TestValidate_DuplicateModelIDs(t *testing.T) {
	t.Parallel()
	yaml := `
engines:
  llm:
    name: llamacpp
models:
  - id: miku
  - id: miku
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for duplicate model IDs, got nil")
	}
	if !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("error should mention duplicate, got: %v", err)
	}
}

func TestValidate_ModelIDRequired(t *testing.T) {
	t.Parallel()
	yaml := `
models:
  - display_name: Nameless
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for model without id, got nil")
	}
	if !strings.Contains(err.Error(), "id is required") {
		t.Errorf("error should mention required id, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_TunableRanges(t *testing.T) {
	t.Parallel()
	yaml := `
pipeline:
  vad_aggressiveness: 7
  wake_sensitivity: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range tunables, got nil")
	}
	if !strings.Contains(err.Error(), "vad_aggressiveness") {
		t.Errorf("error should mention vad_aggressiveness, got: %v", err)
	}
	if !strings.Contains(err.Error(), "wake_sensitivity") {
		t.Errorf("error should mention wake_sensitivity, got: %v", err)
	}
}

func TestValidate_TraitRange(t *testing.T) {
	t.Parallel()
	yaml := `
models:
  - id: miku
    personality:
      cheerful: 1.4
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range trait, got nil")
	}
	if !strings.Contains(err.Error(), "cheerful") {
		t.Errorf("error should name the trait, got: %v", err)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: info
  unknown_knob: true
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
pipeline:
  vad_aggressiveness: -1
models:
  - id: ""
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "vad_aggressiveness", "id is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}
