package providers

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// SharedLibraryEnv overrides the onnxruntime shared library location.
const SharedLibraryEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the onnxruntime shared library for the current platform.
//
// Arguments:
//   - override: A configured path; takes precedence when not empty.
//
// Returns:
//   - string: The path to the shared library.
//   - error: If the platform has no known default.
func GetSharedLibPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(SharedLibraryEnv); env != "" {
		return env, nil
	}

	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
}

var envMu sync.Mutex

// InitializeEnvironment loads the onnxruntime library once per process.
func InitializeEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	libPath, err := GetSharedLibPath(libraryPath)
	if err != nil {
		return err
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

// DestroyEnvironment releases the onnxruntime environment if it was initialized.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
