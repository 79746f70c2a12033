package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const minimalConfig = `
database:
  dsn: "postgres://svc@localhost:5432/app"
metadata_source:
  host: meta.internal
  database: meta
  user: meta_owner
  password: pw
runtime:
  image: "toolbox-worker:latest"
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "toolboxd.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Server.Listen != ":8000" {
		t.Fatalf("default listen=%q", cfg.Server.Listen)
	}
	if cfg.MetadataSource.Port != 5432 {
		t.Fatalf("metadata_source.port default=%d", cfg.MetadataSource.Port)
	}
	if cfg.Runtime.ContainerPort != 8002 || cfg.Runtime.NamePrefix != "toolbox_" || cfg.Runtime.StopTimeoutS != 10 {
		t.Fatalf("runtime defaults=%+v", cfg.Runtime)
	}
	if !reflect.DeepEqual(cfg.Proxy.ValidateCmd, []string{"nginx", "-t"}) {
		t.Fatalf("proxy.validate_cmd default=%v", cfg.Proxy.ValidateCmd)
	}
	if !reflect.DeepEqual(cfg.Proxy.ReloadCmd, []string{"systemctl", "reload", "nginx"}) {
		t.Fatalf("proxy.reload_cmd default=%v", cfg.Proxy.ReloadCmd)
	}
	if cfg.Proxy.ListenPort != 443 || cfg.Proxy.SSLCertificate != "/etc/ssl/cloudflare/origin.pem" {
		t.Fatalf("proxy template defaults=%d %q", cfg.Proxy.ListenPort, cfg.Proxy.SSLCertificate)
	}
	if cfg.Proxy.Watch.Enabled {
		t.Fatalf("proxy.watch.enabled default should be false")
	}
	if cfg.Proxy.Watch.DebounceMs != 500 {
		t.Fatalf("proxy.watch.debounce_ms default=%d", cfg.Proxy.Watch.DebounceMs)
	}
	if !cfg.Logging.AccessLog {
		t.Fatalf("access_log default should be true")
	}
	if cfg.PublicHost != "localhost" {
		t.Fatalf("public_host default=%q", cfg.PublicHost)
	}
}

func TestLoad_AccessLogExplicitFalse(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, minimalConfig+"logging:\n  access_log: false\n"))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Logging.AccessLog {
		t.Fatalf("explicit access_log=false must be kept")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TOOLBOX_LISTEN", "127.0.0.1:9000")
	t.Setenv("TOOLBOX_DATABASE_DSN", "postgres://other/db")
	t.Setenv("TOOLBOX_PROXY_CONFIG_FILE", "/tmp/toolbox.conf")
	t.Setenv("TOOLBOX_PROXY_WATCH_ENABLED", "yes")
	t.Setenv("TOOLBOX_PROXY_WATCH_DEBOUNCE_MS", "50")
	t.Setenv("TOOLBOX_METADATA_PORT", "6432")
	t.Setenv("TOOLBOX_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfigFile(t, minimalConfig))
	if err != nil {
		t.Fatalf("Load err=%v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Fatalf("listen=%q", cfg.Server.Listen)
	}
	if cfg.Database.DSN != "postgres://other/db" {
		t.Fatalf("dsn=%q", cfg.Database.DSN)
	}
	if cfg.Proxy.ConfigFile != "/tmp/toolbox.conf" {
		t.Fatalf("proxy.config_file=%q", cfg.Proxy.ConfigFile)
	}
	if !cfg.Proxy.Watch.Enabled || cfg.Proxy.Watch.DebounceMs != 50 {
		t.Fatalf("proxy.watch=%+v", cfg.Proxy.Watch)
	}
	if cfg.MetadataSource.Port != 6432 {
		t.Fatalf("metadata_source.port=%d", cfg.MetadataSource.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level=%q", cfg.Logging.Level)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing dsn",
			yaml: "runtime:\n  image: x\nmetadata_source:\n  host: h\n  database: d\n",
			want: "database.dsn",
		},
		{
			name: "missing image",
			yaml: "database:\n  dsn: x\nmetadata_source:\n  host: h\n  database: d\n",
			want: "runtime.image",
		},
		{
			name: "missing metadata",
			yaml: "database:\n  dsn: x\nruntime:\n  image: x\n",
			want: "metadata_source",
		},
		{
			name: "bad level",
			yaml: minimalConfig + "logging:\n  level: loud\n",
			want: "logging.level",
		},
		{
			name: "bad port",
			yaml: minimalConfig + "proxy:\n  listen_port: 70000\n",
			want: "proxy.listen_port",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfigFile(t, tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v want contains %q", err, tc.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TOOLBOX_TEST_BOOL", "off")
	if envBool("TOOLBOX_TEST_BOOL", true) {
		t.Fatalf("off must be false")
	}
	t.Setenv("TOOLBOX_TEST_BOOL", "maybe")
	if !envBool("TOOLBOX_TEST_BOOL", true) {
		t.Fatalf("unknown value must keep default")
	}
}

func TestPidFile(t *testing.T) {
	t.Setenv("TOOLBOX_PID_FILE", "")

	withPid := writeConfigFile(t, "server:\n  pid_file: /tmp/custom.pid\n")
	if got, err := PidFile(withPid); err != nil || got != "/tmp/custom.pid" {
		t.Fatalf("got=%q err=%v", got, err)
	}

	// The rest of the file need not be valid.
	partial := writeConfigFile(t, "database:\n  dsn: \"\"\nlogging:\n  access_log: maybe\n")
	if got, err := PidFile(partial); err != nil || got != DefaultPidFile {
		t.Fatalf("got=%q err=%v", got, err)
	}

	if got, err := PidFile(""); err != nil || got != DefaultPidFile {
		t.Fatalf("empty path got=%q err=%v", got, err)
	}

	t.Setenv("TOOLBOX_PID_FILE", "/run/env.pid")
	if got, err := PidFile(withPid); err != nil || got != "/run/env.pid" {
		t.Fatalf("env override got=%q err=%v", got, err)
	}
}

func TestPidFile_Errors(t *testing.T) {
	t.Setenv("TOOLBOX_PID_FILE", "")
	if _, err := PidFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config")
	}
	if _, err := PidFile(writeConfigFile(t, "server: [unclosed\n")); err == nil {
		t.Fatalf("expected error for malformed yaml")
	}
}
