package providers

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var envMu sync.Mutex

// DefaultSharedLibPath returns the conventional location of the ONNX Runtime
// shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func DefaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// InitEnvironment loads the ONNX Runtime shared library once per process.
// Later calls are no-ops.
//
// Arguments:
//   - libPath: The shared library. Empty selects DefaultSharedLibPath.
//
// Returns:
//   - error: If the library is missing or the environment fails to start.
func InitEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = DefaultSharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// DestroyEnvironment releases the runtime. Sessions must be closed first.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
