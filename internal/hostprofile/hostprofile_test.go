package hostprofile

import (
	"errors"
	"os"
	"strconv"
	"testing"

	"github.com/kagami-sh/kagami/pkg/engine"
)

// fakeHost builds a Detector whose probes answer from fixed data.
type fakeHost struct {
	goos    string
	goarch  string
	cpus    int
	files   map[string]string // readable paths
	present map[string]bool   // stat-able paths
	binares map[string]bool   // findable binaries
}

func (f fakeHost) detector() *Detector {
	return &Detector{
		GOOS:   f.goos,
		GOARCH: f.goarch,
		NumCPU: func() int { return f.cpus },
		ReadFile: func(path string) ([]byte, error) {
			if data, ok := f.files[path]; ok {
				return []byte(data), nil
			}
			return nil, os.ErrNotExist
		},
		Stat: func(path string) (os.FileInfo, error) {
			if f.present[path] {
				return nil, nil
			}
			return nil, os.ErrNotExist
		},
		LookPath: func(name string) (string, error) {
			if f.binares[name] {
				return "/usr/bin/" + name, nil
			}
			return "", errors.New("not found")
		},
	}
}

func meminfo(totalKB, availKB int) string {
	return "MemTotal:       " + strconv.Itoa(totalKB) + " kB\n" +
		"MemFree:        1024 kB\n" +
		"MemAvailable:   " + strconv.Itoa(availKB) + " kB\n"
}

func TestDetect_RaspberryPiIsLowTier(t *testing.T) {
	d := fakeHost{
		goos: "linux", goarch: "arm64", cpus: 4,
		files: map[string]string{
			"/proc/meminfo":           meminfo(8 * 1024 * 1024, 6 * 1024 * 1024),
			"/proc/device-tree/model": "Raspberry Pi 4 Model B Rev 1.4\x00",
		},
	}.detector()

	p := d.Detect()
	if !p.SBC {
		t.Fatal("Raspberry Pi not detected as SBC")
	}
	if p.SBCModel != "Raspberry Pi 4 Model B Rev 1.4" {
		t.Errorf("model = %q", p.SBCModel)
	}
	// SBC forces low tier even with 8 GB RAM.
	if p.Tier != TierLow {
		t.Errorf("tier = %q, want low", p.Tier)
	}
	if p.Recommended.LLMVariant != LLMTiny || p.Recommended.STTVariant != STTBase {
		t.Errorf("recommendation = %+v, want tiny/base", p.Recommended)
	}
	if p.Recommended.Optimization.GPULayers != 0 {
		t.Errorf("gpu layers = %d, want 0", p.Recommended.Optimization.GPULayers)
	}
}

func TestDetect_SmallRAMIsLowTier(t *testing.T) {
	d := fakeHost{
		goos: "linux", goarch: "amd64", cpus: 2,
		files: map[string]string{"/proc/meminfo": meminfo(2 * 1024 * 1024, 1024 * 1024)},
	}.detector()

	p := d.Detect()
	if p.TotalRAMMB != 2048 {
		t.Errorf("total ram = %d MB, want 2048", p.TotalRAMMB)
	}
	if p.Tier != TierLow {
		t.Errorf("tier = %q, want low", p.Tier)
	}
}

func TestDetect_WorkstationWithCUDAIsHighTier(t *testing.T) {
	d := fakeHost{
		goos: "linux", goarch: "amd64", cpus: 16,
		files:   map[string]string{"/proc/meminfo": meminfo(32 * 1024 * 1024, 24 * 1024 * 1024)},
		present: map[string]bool{"/proc/driver/nvidia/version": true},
	}.detector()

	p := d.Detect()
	if p.GPU != GPUCUDA {
		t.Errorf("gpu = %q, want cuda", p.GPU)
	}
	if p.Tier != TierHigh {
		t.Errorf("tier = %q, want high", p.Tier)
	}
	if p.Recommended.LLMVariant != LLMMedium || p.Recommended.STTVariant != STTLarge {
		t.Errorf("recommendation = %+v, want medium/large", p.Recommended)
	}
	opt := p.Recommended.Optimization
	if opt.Threads != 8 {
		t.Errorf("threads = %d, want capped at 8", opt.Threads)
	}
	if opt.GPULayers != 35 {
		t.Errorf("gpu layers = %d, want 35", opt.GPULayers)
	}
	if !opt.UseMlock {
		t.Error("mlock off on a mains-powered high-tier host")
	}
}

func TestDetect_MacIsMetal(t *testing.T) {
	d := fakeHost{goos: "darwin", goarch: "arm64", cpus: 10}.detector()

	p := d.Detect()
	if p.GPU != GPUMetal {
		t.Errorf("gpu = %q, want metal", p.GPU)
	}
	// No /proc/meminfo on macOS: RAM is unknown, tier conservative.
	if p.Tier != TierLow {
		t.Errorf("tier = %q, want low when RAM is unknown", p.Tier)
	}
}

func TestDetect_MidRangeLaptopIsMediumTier(t *testing.T) {
	d := fakeHost{
		goos: "linux", goarch: "amd64", cpus: 8,
		files:   map[string]string{"/proc/meminfo": meminfo(8 * 1024 * 1024, 5 * 1024 * 1024)},
		present: map[string]bool{"/sys/class/power_supply/BAT0": true},
	}.detector()

	p := d.Detect()
	if p.Tier != TierMedium {
		t.Errorf("tier = %q, want medium", p.Tier)
	}
	if !p.Battery {
		t.Error("battery not detected")
	}
	if p.Recommended.Optimization.UseMlock {
		t.Error("mlock enabled on a battery-powered medium host")
	}
	if p.Recommended.LLMVariant != LLMSmall || p.Recommended.STTVariant != STTSmall {
		t.Errorf("recommendation = %+v, want small/small", p.Recommended)
	}
}

func TestAdjustForEngines_DowngradesWhenRAMTight(t *testing.T) {
	d := fakeHost{
		goos: "linux", goarch: "amd64", cpus: 16,
		files:   map[string]string{"/proc/meminfo": meminfo(32 * 1024 * 1024, 2 * 1024 * 1024)},
		present: map[string]bool{"/proc/driver/nvidia/version": true},
	}.detector()
	p := d.Detect()

	// Engine wants more than the 2 GB currently available.
	rec := AdjustForEngines(p, engine.ResourceProfile{EstimatedRAMMB: 6000, CPUThreads: 4})
	if rec.LLMVariant != LLMSmall {
		t.Errorf("llm variant = %q, want downgraded to small", rec.LLMVariant)
	}
	if rec.STTVariant != STTMedium {
		t.Errorf("stt variant = %q, want downgraded to medium", rec.STTVariant)
	}

	// Fitting engines leave the recommendation alone.
	rec = AdjustForEngines(p, engine.ResourceProfile{EstimatedRAMMB: 512})
	if rec.LLMVariant != p.Recommended.LLMVariant {
		t.Errorf("fitting engine changed variant to %q", rec.LLMVariant)
	}
}

func TestAdjustForEngines_NeverBelowSmallest(t *testing.T) {
	d := fakeHost{
		goos: "linux", goarch: "arm64", cpus: 4,
		files: map[string]string{
			"/proc/meminfo":           meminfo(1024 * 1024, 256 * 1024),
			"/proc/device-tree/model": "Raspberry Pi Zero 2 W\x00",
		},
	}.detector()
	p := d.Detect()

	rec := AdjustForEngines(p,
		engine.ResourceProfile{EstimatedRAMMB: 4000},
		engine.ResourceProfile{EstimatedRAMMB: 8000},
	)
	if rec.LLMVariant != LLMTiny || rec.STTVariant != STTBase {
		t.Errorf("recommendation = %+v, want floor tiny/base", rec)
	}
}
