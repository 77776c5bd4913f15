package cpu

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

// ProbeAccelerator reports whether an accelerated (BLAS-backed) runtime library
// can be loaded from libPath. An empty path always reports false.
//
// A successful probe initialises the process-global ONNX Runtime environment
// and leaves it running. Callers release it with ReleaseAccelerator once they
// are done with the library.
func ProbeAccelerator(libPath string) bool {
	return initAccelerator(libPath) == nil
}

func initAccelerator(libPath string) error {
	if libPath == "" {
		return fmt.Errorf("no accelerator library configured")
	}
	if ort.IsInitialized() {
		return nil
	}
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("accelerator library: %w", err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// ReleaseAccelerator tears down a runtime initialised by ProbeAccelerator.
func ReleaseAccelerator() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
