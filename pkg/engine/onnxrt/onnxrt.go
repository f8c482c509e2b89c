// Package onnxrt initialises the ONNX Runtime environment exactly once per
// process. Both the Silero VAD and the openWakeWord detector run on ONNX
// Runtime, and the underlying library permits only a single environment.
package onnxrt

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	once    sync.Once
	initErr error
)

// Ensure loads the ONNX Runtime shared library from libPath (when non-empty)
// and initialises the environment. Subsequent calls return the first
// result; a differing libPath on a later call is ignored.
func Ensure(libPath string) error {
	once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("onnxrt: initialize environment: %w", err)
		}
	})
	return initErr
}
