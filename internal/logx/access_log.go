package logx

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// OpenAccessLogger opens the access log. An empty path logs to stdout, with
// status colours when stdout is a terminal. The returned closer is nil for
// stdout.
func OpenAccessLogger(enabled bool, path string) (*log.Logger, io.Closer, bool, error) {
	if !enabled {
		return nil, nil, false, nil
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return log.New(os.Stdout, "", 0), nil, ColorEnabled(os.Stdout), nil
	}

	dir := filepath.Dir(path)
	if strings.TrimSpace(dir) != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, nil, false, err
		}
	}
	// #nosec G304 -- access_log_path comes from trusted config/env.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, false, err
	}
	return log.New(f, "", 0), f, false, nil
}
