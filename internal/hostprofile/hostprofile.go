// Package hostprofile detects the capabilities of the machine the runtime
// starts on and recommends engine model variants sized to it. Detection
// runs once at startup; everything downstream of the recommendation is
// tier-agnostic.
package hostprofile

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// Tier buckets the host into a coarse performance class.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// GPU classifies the host's GPU acceleration stack.
type GPU string

const (
	GPUNone  GPU = "none"
	GPUCUDA  GPU = "cuda"
	GPUROCm  GPU = "rocm"
	GPUMetal GPU = "metal"
)

// LLM model variants, smallest first.
const (
	LLMTiny   = "tiny"
	LLMSmall  = "small"
	LLMMedium = "medium"
)

// STT model variants, smallest first.
const (
	STTBase   = "base"
	STTSmall  = "small"
	STTMedium = "medium"
	STTLarge  = "large"
)

// Optimization is the tuning block engines consume.
type Optimization struct {
	Threads   int  `json:"threads"`
	GPULayers int  `json:"gpu_layers"`
	UseMlock  bool `json:"use_mlock"`
}

// Recommendation is the detector's engine sizing advice.
type Recommendation struct {
	LLMVariant   string       `json:"llm_variant"`
	STTVariant   string       `json:"stt_variant"`
	Optimization Optimization `json:"optimization"`
}

// Profile is one detected host snapshot.
type Profile struct {
	OS             string         `json:"os"`
	Arch           string         `json:"arch"`
	TotalRAMMB     int            `json:"total_ram_mb"`
	AvailableRAMMB int            `json:"available_ram_mb"`
	CPUs           int            `json:"cpus"`
	GPU            GPU            `json:"gpu"`
	SBC            bool           `json:"sbc"`
	SBCModel       string         `json:"sbc_model,omitempty"`
	Battery        bool           `json:"battery"`
	Tier           Tier           `json:"tier"`
	Recommended    Recommendation `json:"recommended"`
}

// sbcModelHints are device-tree model substrings identifying common
// single-board computers.
var sbcModelHints = []string{
	"raspberry pi", "orange pi", "banana pi", "rock pi", "rockpro",
	"pine64", "pinebook", "jetson", "odroid", "beaglebone",
}

// Detector probes the host. The probe functions default to the real
// system and are overridable in tests.
type Detector struct {
	GOOS     string
	GOARCH   string
	NumCPU   func() int
	ReadFile func(string) ([]byte, error)
	Stat     func(string) (os.FileInfo, error)
	LookPath func(string) (string, error)
}

// NewDetector creates a Detector wired to the live system.
func NewDetector() *Detector {
	return &Detector{
		GOOS:     runtime.GOOS,
		GOARCH:   runtime.GOARCH,
		NumCPU:   runtime.NumCPU,
		ReadFile: os.ReadFile,
		Stat:     os.Stat,
		LookPath: exec.LookPath,
	}
}

// Detect probes the host and derives the tier and recommendation.
func (d *Detector) Detect() Profile {
	p := Profile{
		OS:   d.GOOS,
		Arch: d.GOARCH,
		CPUs: d.NumCPU(),
		GPU:  d.detectGPU(),
	}
	p.TotalRAMMB, p.AvailableRAMMB = d.detectRAM()
	p.SBC, p.SBCModel = d.detectSBC()
	p.Battery = d.detectBattery()
	p.Tier = tierFor(p)
	p.Recommended = recommend(p)
	return p
}

// detectRAM reads total and available memory in MB. On Linux this parses
// /proc/meminfo; elsewhere (and on parse failure) both come back zero and
// the tier logic treats the host conservatively.
func (d *Detector) detectRAM() (totalMB, availMB int) {
	raw, err := d.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalMB = kb / 1024
		case "MemAvailable:":
			availMB = kb / 1024
		}
	}
	return totalMB, availMB
}

// detectGPU classifies the acceleration stack: Metal on macOS, CUDA when
// the NVIDIA driver is loaded or nvidia-smi is installed, ROCm when the
// kernel fusion driver is present.
func (d *Detector) detectGPU() GPU {
	if d.GOOS == "darwin" {
		return GPUMetal
	}
	if _, err := d.Stat("/proc/driver/nvidia/version"); err == nil {
		return GPUCUDA
	}
	if _, err := d.LookPath("nvidia-smi"); err == nil {
		return GPUCUDA
	}
	if _, err := d.Stat("/sys/class/kfd"); err == nil {
		return GPUROCm
	}
	if _, err := d.Stat("/opt/rocm"); err == nil {
		return GPUROCm
	}
	return GPUNone
}

// detectSBC checks the device-tree model string for known single-board
// computers.
func (d *Detector) detectSBC() (bool, string) {
	raw, err := d.ReadFile("/proc/device-tree/model")
	if err != nil {
		return false, ""
	}
	model := strings.TrimRight(string(raw), "\x00\n ")
	lower := strings.ToLower(model)
	for _, hint := range sbcModelHints {
		if strings.Contains(lower, hint) {
			return true, model
		}
	}
	return false, ""
}

// detectBattery reports whether the host runs on battery power.
func (d *Detector) detectBattery() bool {
	for _, path := range []string{"/sys/class/power_supply/BAT0", "/sys/class/power_supply/BAT1"} {
		if _, err := d.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// tierFor buckets the profile: SBCs and small-memory hosts are low;
// big-memory multicore hosts and anything with a discrete GPU are high.
func tierFor(p Profile) Tier {
	switch {
	case p.SBC, p.TotalRAMMB < 4096:
		return TierLow
	case p.GPU == GPUCUDA || p.GPU == GPUROCm:
		return TierHigh
	case p.TotalRAMMB >= 16384 && p.CPUs >= 8:
		return TierHigh
	default:
		return TierMedium
	}
}

// recommend sizes engine variants and the optimization block for the
// tier.
func recommend(p Profile) Recommendation {
	var r Recommendation
	switch p.Tier {
	case TierLow:
		r.LLMVariant = LLMTiny
		r.STTVariant = STTBase
	case TierMedium:
		r.LLMVariant = LLMSmall
		r.STTVariant = STTSmall
	default:
		r.LLMVariant = LLMMedium
		r.STTVariant = STTMedium
		if p.GPU != GPUNone {
			r.STTVariant = STTLarge
		}
	}

	r.Optimization.Threads = p.CPUs
	if r.Optimization.Threads > 8 {
		r.Optimization.Threads = 8
	}
	if r.Optimization.Threads < 1 {
		r.Optimization.Threads = 1
	}
	switch {
	case p.GPU == GPUNone:
		r.Optimization.GPULayers = 0
	case p.Tier == TierHigh:
		r.Optimization.GPULayers = 35
	default:
		r.Optimization.GPULayers = 20
	}
	r.Optimization.UseMlock = p.Tier == TierHigh && !p.Battery
	return r
}

// variant downgrade ladders, largest to smallest.
var (
	llmLadder = []string{LLMMedium, LLMSmall, LLMTiny}
	sttLadder = []string{STTLarge, STTMedium, STTSmall, STTBase}
)

// AdjustForEngines downgrades the recommendation when an engine's
// advertised resource profile does not fit the available memory. One step
// down per engine that overshoots; the smallest variants are never
// rejected.
func AdjustForEngines(p Profile, profiles ...engine.ResourceProfile) Recommendation {
	r := p.Recommended
	for _, rp := range profiles {
		if p.AvailableRAMMB <= 0 || rp.EstimatedRAMMB <= p.AvailableRAMMB {
			continue
		}
		r.LLMVariant = stepDown(llmLadder, r.LLMVariant)
		r.STTVariant = stepDown(sttLadder, r.STTVariant)
		if rp.WantsGPU && p.GPU == GPUNone {
			r.Optimization.GPULayers = 0
		}
	}
	return r
}

func stepDown(ladder []string, current string) string {
	for i, v := range ladder {
		if v == current {
			if i+1 < len(ladder) {
				return ladder[i+1]
			}
			return v
		}
	}
	return current
}

// Summary renders a one-line description for startup logs.
func (p Profile) Summary() string {
	return fmt.Sprintf("%s/%s %d CPUs %d MB RAM gpu=%s tier=%s llm=%s stt=%s",
		p.OS, p.Arch, p.CPUs, p.TotalRAMMB, p.GPU, p.Tier,
		p.Recommended.LLMVariant, p.Recommended.STTVariant)
}
