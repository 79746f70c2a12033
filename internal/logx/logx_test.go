package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCompileAccessLogFormat(t *testing.T) {
	t.Run("empty uses default", func(t *testing.T) {
		f, err := CompileAccessLogFormat("   ")
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		out := f.Format(AccessRecord{Status: 200, Method: "GET", Path: "/healthz"}, false)
		if !strings.Contains(out, "| 200 |") || !strings.Contains(out, "GET /healthz") {
			t.Fatalf("unexpected out: %q", out)
		}
	})

	t.Run("unknown variable fails", func(t *testing.T) {
		if _, err := CompileAccessLogFormat("$model"); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("missing name fails", func(t *testing.T) {
		if _, err := CompileAccessLogFormat("x $ y"); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("missing var uses dash", func(t *testing.T) {
		f, err := CompileAccessLogFormat("$method $path $hostname")
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		out := f.Format(AccessRecord{Time: time.Unix(0, 0), Status: 200, Method: "POST", Path: "/v1/routes"}, false)
		if out != "POST /v1/routes -" {
			t.Fatalf("unexpected out: %q", out)
		}
	})

	t.Run("fields and dollar escape", func(t *testing.T) {
		f, err := CompileAccessLogFormat("$$ $status server=$server_id port=$host_port")
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		out := f.Format(AccessRecord{Status: 201, Fields: map[string]any{"server_id": "srv-1", "host_port": 8102}}, false)
		if out != "$ 201 server=srv-1 port=8102" {
			t.Fatalf("unexpected out: %q", out)
		}
	})
}

func TestResolveAccessLogFormat(t *testing.T) {
	if got, _ := ResolveAccessLogFormat("$path", "toolbox_minimal"); got != "$path" {
		t.Fatalf("explicit format must win, got %q", got)
	}
	got, err := ResolveAccessLogFormat("", "TOOLBOX_COMBINED")
	if err != nil || !strings.Contains(got, "$route_status") {
		t.Fatalf("preset=%q err=%v", got, err)
	}
	if _, err := ResolveAccessLogFormat("", "nope"); err == nil {
		t.Fatalf("expected error for unknown preset")
	}
	for _, preset := range []string{"toolbox_combined", "toolbox_minimal"} {
		format, _ := ResolveAccessLogFormat("", preset)
		if _, err := CompileAccessLogFormat(format); err != nil {
			t.Fatalf("preset %s does not compile: %v", preset, err)
		}
	}
}

func TestColorizeStatusWith(t *testing.T) {
	if got := ColorizeStatusWith(502, false); got != "502" {
		t.Fatalf("plain=%q", got)
	}
	got := ColorizeStatusWith(502, true)
	if !strings.HasPrefix(got, colorRed) || !strings.HasSuffix(got, colorReset) {
		t.Fatalf("colored=%q", got)
	}
}

func TestOpenAccessLogger(t *testing.T) {
	l, closer, color, err := OpenAccessLogger(false, "")
	if err != nil || l != nil || closer != nil || color {
		t.Fatalf("disabled: l=%v closer=%v color=%v err=%v", l, closer, color, err)
	}

	path := filepath.Join(t.TempDir(), "logs", "access.log")
	l, closer, color, err = OpenAccessLogger(true, path)
	if err != nil {
		t.Fatalf("OpenAccessLogger err=%v", err)
	}
	if color {
		t.Fatalf("expected color disabled for file logger")
	}
	l.Println("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("close err=%v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(b)) != "hello" {
		t.Fatalf("content=%q err=%v", b, err)
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l, err := NewLogger(level)
		if err != nil || l == nil {
			t.Fatalf("NewLogger(%q) err=%v", level, err)
		}
		_ = l.Sync()
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
