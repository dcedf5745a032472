// Package writers resolves log destination strings to io.Writer values.
package writers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// CreateWriter maps an output spec to a writer:
//
//   - "" or "stdout"     -> os.Stdout
//   - "stderr"           -> os.Stderr
//   - "file:///var/log"  -> append to that file
//   - "/var/log/app.log" -> append to that file
//
// Parent directories are created as needed.
func CreateWriter(output string) (io.Writer, error) {
	switch {
	case output == "" || output == "stdout":
		return os.Stdout, nil
	case output == "stderr":
		return os.Stderr, nil
	case strings.HasPrefix(output, "file://"):
		return openLogFile(strings.TrimPrefix(output, "file://"))
	case looksLikePath(output):
		return openLogFile(output)
	}
	return nil, fmt.Errorf("unsupported output format: %s", output)
}

// looksLikePath rejects URLs with non-file schemes and accepts anything with
// a path separator.
func looksLikePath(s string) bool {
	if strings.Contains(s, "://") {
		return false
	}
	return strings.ContainsAny(s, `/\`)
}

func openLogFile(path string) (io.Writer, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return file, nil
}
