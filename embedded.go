package main

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
)

//go:embed all:lib
var embeddedFiles embed.FS

// defaultLibraryName is handed to the dynamic loader when nothing else is
// configured.
func defaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// resolveLibrary picks the ONNX Runtime shared library: an explicit path, a
// copy bundled under lib/, or the platform default. cleanup removes any
// extracted files and is never nil.
func resolveLibrary(explicit string) (string, func(), error) {
	noop := func() {}

	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", noop, fmt.Errorf("onnxruntime library not found: %w", err)
		}
		return explicit, noop, nil
	}

	bundled, err := bundledLibrary(embeddedFiles)
	if err != nil {
		return "", noop, err
	}
	if bundled == "" {
		return defaultLibraryName(), noop, nil
	}

	tmpDir, err := os.MkdirTemp("", "object-detection")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	libPath, err := extractLibrary(embeddedFiles, bundled, tmpDir)
	if err != nil {
		cleanup()
		return "", noop, err
	}
	return libPath, cleanup, nil
}

// bundledLibrary returns the embedded library matching the current OS, or
// "" when none was bundled.
func bundledLibrary(fsys fs.FS) (string, error) {
	patterns := map[string]string{
		"darwin":  "lib/libonnxruntime*.dylib",
		"windows": "lib/onnxruntime*.dll",
	}
	pattern, ok := patterns[runtime.GOOS]
	if !ok {
		pattern = "lib/libonnxruntime.so*"
	}

	matches, err := fs.Glob(fsys, pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	return matches[0], nil
}

// extractLibrary copies an embedded library into dir
func extractLibrary(fsys fs.FS, name, dir string) (string, error) {
	libData, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer libData.Close()

	tmpLib := filepath.Join(dir, path.Base(name))
	if err := extractFile(libData, tmpLib); err != nil {
		return "", err
	}

	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpLib, 0755); err != nil {
			return "", err
		}
	}

	return tmpLib, nil
}

// extractFile is a helper function to extract a file
func extractFile(src io.Reader, destPath string) error {
	outFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, src)
	return err
}
