// Package engine holds the contracts shared by every speech and language
// engine in the runtime: the resource profile consumed by the host profile
// detector and the failure sentinels engines return across the boundary.
//
// Engine interfaces themselves live in the subpackages ([vad], [wake],
// [stt], [llm], [tts]); implementations live one level below, one package
// per backend. Engines never panic across the boundary — failures are
// wrapped sentinels, and timeouts surface as context.DeadlineExceeded from
// the context passed into the blocking call.
package engine

import "errors"

// ErrUnavailable reports that an engine cannot serve requests: the backing
// process is down, the model file is missing, or initialisation failed.
var ErrUnavailable = errors.New("engine unavailable")

// ErrDecodeFailed reports that an engine received input it could not
// decode (misaligned PCM, unsupported rate, malformed payload).
var ErrDecodeFailed = errors.New("decode failed")

// ResourceProfile describes what an engine expects from the host. The host
// profile detector compares these against detected hardware when choosing
// model variants.
type ResourceProfile struct {
	// EstimatedRAMMB is the approximate resident memory the engine needs
	// with its model loaded.
	EstimatedRAMMB int

	// CPUThreads is the number of threads the engine benefits from.
	CPUThreads int

	// WantsGPU reports whether the engine can offload work to a GPU.
	WantsGPU bool
}
