package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// sharedLibraryName is the ONNX Runtime shared library filename for
// the current OS.
func sharedLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// resolveSharedLibrary locates the ONNX Runtime shared library. An
// explicitly configured path wins; otherwise a few conventional
// locations next to the binary are probed.
func resolveSharedLibrary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("onnxruntime library not found at %s: %w", configured, err)
		}
		return configured, nil
	}

	name := sharedLibraryName()
	candidates := []string{
		filepath.Join("lib", name),
		name,
		filepath.Join("/usr/local/lib", name),
		filepath.Join("/usr/lib", name),
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("onnxruntime library %s not found, set ORT_LIBRARY_PATH", name)
}
