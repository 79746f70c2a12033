package server

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/oneplace-ai/toolbox-provisioner/internal/config"
)

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

// writePIDFile records the current pid at path. The returned closer removes
// the file again; an empty path disables it.
func writePIDFile(path string) (io.Closer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, err
		}
	}
	tmp := path + ".tmp"
	// #nosec G304 -- pid_file comes from trusted config/env.
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, err
	}
	return closerFunc(func() error { return os.Remove(path) }), nil
}

func readPIDFile(path string) (int, error) {
	// #nosec G304 -- pid file path comes from trusted config/env.
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file %q: %w", path, err)
	}
	s := strings.TrimSpace(string(b))
	pid, err := strconv.Atoi(s)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid in %q: %q", path, s)
	}
	return pid, nil
}

// SignalReload asks the daemon started with cfgPath to rebase and reload the
// proxy configuration. Only server.pid_file is read from the config.
func SignalReload(cfgPath string) error {
	pidFile, err := config.PidFile(cfgPath)
	if err != nil {
		return fmt.Errorf("resolve pid file: %w", err)
	}
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process pid=%d: %w", pid, err)
	}
	if err := p.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("send SIGHUP pid=%d: %w", pid, err)
	}
	return nil
}
