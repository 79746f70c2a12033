package server

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"
)

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "toolboxd.pid")
	closer, err := writePIDFile(path)
	if err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("pid=%d err=%v", pid, err)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file not removed: %v", err)
	}

	if c, err := writePIDFile("  "); c != nil || err != nil {
		t.Fatalf("empty path: closer=%v err=%v", c, err)
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolboxd.pid")
	for _, content := range []string{"", "abc\n", "-3\n"} {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := readPIDFile(path); err == nil {
			t.Fatalf("content %q: expected error", content)
		}
	}
}

func TestSignalReload(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "toolboxd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	cfgPath := filepath.Join(dir, "toolboxd.yaml")
	if err := os.WriteFile(cfgPath, []byte("server:\n  pid_file: "+pidPath+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TOOLBOX_PID_FILE", "")

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)

	if err := SignalReload(cfgPath); err != nil {
		t.Fatalf("SignalReload: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("SIGHUP not delivered")
	}

	if err := SignalReload(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config")
	}
}
