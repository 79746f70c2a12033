package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ConnectionConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type LoggingConfig struct {
	Level                 string `yaml:"level"`
	AccessLog             bool   `yaml:"access_log"`
	AccessLogPath         string `yaml:"access_log_path"`
	AccessLogFormat       string `yaml:"access_log_format"`
	AccessLogFormatPreset string `yaml:"access_log_format_preset"`

	accessLogSet bool `yaml:"-"`
}

func (c *LoggingConfig) UnmarshalYAML(value *yaml.Node) error {
	type rawLogging struct {
		Level                 string `yaml:"level"`
		AccessLog             bool   `yaml:"access_log"`
		AccessLogPath         string `yaml:"access_log_path"`
		AccessLogFormat       string `yaml:"access_log_format"`
		AccessLogFormatPreset string `yaml:"access_log_format_preset"`
	}
	var raw rawLogging
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Level = raw.Level
	c.AccessLog = raw.AccessLog
	c.AccessLogPath = raw.AccessLogPath
	c.AccessLogFormat = raw.AccessLogFormat
	c.AccessLogFormatPreset = raw.AccessLogFormatPreset
	c.accessLogSet = false
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if strings.TrimSpace(value.Content[i].Value) == "access_log" {
			c.accessLogSet = true
		}
	}
	return nil
}

type Config struct {
	Server struct {
		Listen         string `yaml:"listen"`
		ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
		WriteTimeoutMs int    `yaml:"write_timeout_ms"`
		PidFile        string `yaml:"pid_file"`
	} `yaml:"server"`

	Database struct {
		DSN              string `yaml:"dsn"`
		MaxConns         int32  `yaml:"max_conns"`
		ConnectTimeoutMs int    `yaml:"connect_timeout_ms"`
	} `yaml:"database"`

	// MetadataSource is written verbatim into every generated tools.yaml.
	MetadataSource ConnectionConfig `yaml:"metadata_source"`

	Runtime struct {
		Image         string `yaml:"image"`
		ContainerPort int    `yaml:"container_port"`
		// WorkdirRoot holds one directory per deployment (tools.yaml, plugins/).
		WorkdirRoot  string `yaml:"workdir_root"`
		NamePrefix   string `yaml:"name_prefix"`
		StopTimeoutS int    `yaml:"stop_timeout_s"`
		// DockerHost overrides DOCKER_HOST when set.
		DockerHost string `yaml:"docker_host"`
	} `yaml:"runtime"`

	Proxy struct {
		ConfigFile        string   `yaml:"config_file"`
		ValidateCmd       []string `yaml:"validate_cmd"`
		ReloadCmd         []string `yaml:"reload_cmd"`
		CommandTimeoutMs  int      `yaml:"command_timeout_ms"`
		ListenPort        int      `yaml:"listen_port"`
		SSLCertificate    string   `yaml:"ssl_certificate"`
		SSLCertificateKey string   `yaml:"ssl_certificate_key"`
		Backup            bool     `yaml:"backup"`
		// Watch logs a warning when the file is edited outside the provisioner.
		Watch struct {
			Enabled    bool `yaml:"enabled"`
			DebounceMs int  `yaml:"debounce_ms"`
		} `yaml:"watch"`
	} `yaml:"proxy"`

	Logging LoggingConfig `yaml:"logging"`

	// PublicHost is used to build status URLs returned to API clients.
	PublicHost string `yaml:"public_host"`
}

// DefaultPidFile is where toolboxd records its pid when server.pid_file is
// unset.
const DefaultPidFile = "/var/run/toolboxd.pid"

func Load(path string) (*Config, error) {
	// #nosec G304 -- path is provided by trusted config/flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PidFile resolves server.pid_file for the config at path without
// validating the rest of the file. TOOLBOX_PID_FILE wins over the file.
func PidFile(path string) (string, error) {
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_PID_FILE")); v != "" {
		return v, nil
	}
	if strings.TrimSpace(path) == "" {
		return DefaultPidFile, nil
	}
	// #nosec G304 -- path is provided by trusted config/flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var partial struct {
		Server struct {
			PidFile string `yaml:"pid_file"`
		} `yaml:"server"`
	}
	if err := yaml.Unmarshal(b, &partial); err != nil {
		return "", err
	}
	if v := strings.TrimSpace(partial.Server.PidFile); v != "" {
		return v, nil
	}
	return DefaultPidFile, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Listen) == "" {
		cfg.Server.Listen = ":8000"
	}
	if cfg.Server.ReadTimeoutMs <= 0 {
		cfg.Server.ReadTimeoutMs = 60000
	}
	if cfg.Server.WriteTimeoutMs <= 0 {
		cfg.Server.WriteTimeoutMs = 120000
	}
	if strings.TrimSpace(cfg.Server.PidFile) == "" {
		cfg.Server.PidFile = DefaultPidFile
	}

	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 4
	}
	if cfg.Database.ConnectTimeoutMs <= 0 {
		cfg.Database.ConnectTimeoutMs = 5000
	}
	if cfg.MetadataSource.Port <= 0 {
		cfg.MetadataSource.Port = 5432
	}

	if cfg.Runtime.ContainerPort <= 0 {
		cfg.Runtime.ContainerPort = 8002
	}
	if strings.TrimSpace(cfg.Runtime.WorkdirRoot) == "" {
		cfg.Runtime.WorkdirRoot = "./run/deployments"
	}
	if strings.TrimSpace(cfg.Runtime.NamePrefix) == "" {
		cfg.Runtime.NamePrefix = "toolbox_"
	}
	if cfg.Runtime.StopTimeoutS <= 0 {
		cfg.Runtime.StopTimeoutS = 10
	}

	if strings.TrimSpace(cfg.Proxy.ConfigFile) == "" {
		cfg.Proxy.ConfigFile = "/etc/nginx/conf.d/toolbox.conf"
	}
	if len(cfg.Proxy.ValidateCmd) == 0 {
		cfg.Proxy.ValidateCmd = []string{"nginx", "-t"}
	}
	if len(cfg.Proxy.ReloadCmd) == 0 {
		cfg.Proxy.ReloadCmd = []string{"systemctl", "reload", "nginx"}
	}
	if cfg.Proxy.CommandTimeoutMs <= 0 {
		cfg.Proxy.CommandTimeoutMs = 30000
	}
	if cfg.Proxy.ListenPort <= 0 {
		cfg.Proxy.ListenPort = 443
	}
	if strings.TrimSpace(cfg.Proxy.SSLCertificate) == "" {
		cfg.Proxy.SSLCertificate = "/etc/ssl/cloudflare/origin.pem"
	}
	if strings.TrimSpace(cfg.Proxy.SSLCertificateKey) == "" {
		cfg.Proxy.SSLCertificateKey = "/etc/ssl/cloudflare/origin.key"
	}
	if cfg.Proxy.Watch.DebounceMs <= 0 {
		cfg.Proxy.Watch.DebounceMs = 500
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if !cfg.Logging.accessLogSet {
		cfg.Logging.AccessLog = true
	}
	if strings.TrimSpace(cfg.PublicHost) == "" {
		cfg.PublicHost = "localhost"
	}
}

func applyEnvOverrides(cfg *Config) {
	applyEnvServerOverrides(cfg)
	applyEnvDatabaseOverrides(cfg)
	applyEnvRuntimeOverrides(cfg)
	applyEnvProxyOverrides(cfg)
	applyEnvLoggingOverrides(cfg)
}

func applyEnvServerOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_LISTEN")); v != "" {
		cfg.Server.Listen = v
	}
	if n, ok := envInt("TOOLBOX_READ_TIMEOUT_MS"); ok && n > 0 {
		cfg.Server.ReadTimeoutMs = n
	}
	if n, ok := envInt("TOOLBOX_WRITE_TIMEOUT_MS"); ok && n > 0 {
		cfg.Server.WriteTimeoutMs = n
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_PID_FILE")); v != "" {
		cfg.Server.PidFile = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_PUBLIC_HOST")); v != "" {
		cfg.PublicHost = v
	}
}

func applyEnvDatabaseOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if n, ok := envInt("TOOLBOX_DATABASE_MAX_CONNS"); ok && n > 0 {
		cfg.Database.MaxConns = int32(n) // #nosec G115 -- small pool sizes only.
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_METADATA_HOST")); v != "" {
		cfg.MetadataSource.Host = v
	}
	if n, ok := envInt("TOOLBOX_METADATA_PORT"); ok && n > 0 {
		cfg.MetadataSource.Port = n
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_METADATA_DATABASE")); v != "" {
		cfg.MetadataSource.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_METADATA_USER")); v != "" {
		cfg.MetadataSource.User = v
	}
	if v := os.Getenv("TOOLBOX_METADATA_PASSWORD"); v != "" {
		cfg.MetadataSource.Password = v
	}
}

func applyEnvRuntimeOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_IMAGE")); v != "" {
		cfg.Runtime.Image = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_WORKDIR_ROOT")); v != "" {
		cfg.Runtime.WorkdirRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_DOCKER_HOST")); v != "" {
		cfg.Runtime.DockerHost = v
	}
}

func applyEnvProxyOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_PROXY_CONFIG_FILE")); v != "" {
		cfg.Proxy.ConfigFile = v
	}
	if n, ok := envInt("TOOLBOX_PROXY_COMMAND_TIMEOUT_MS"); ok && n > 0 {
		cfg.Proxy.CommandTimeoutMs = n
	}
	cfg.Proxy.Backup = envBool("TOOLBOX_PROXY_BACKUP", cfg.Proxy.Backup)
	cfg.Proxy.Watch.Enabled = envBool("TOOLBOX_PROXY_WATCH_ENABLED", cfg.Proxy.Watch.Enabled)
	if n, ok := envInt("TOOLBOX_PROXY_WATCH_DEBOUNCE_MS"); ok {
		cfg.Proxy.Watch.DebounceMs = n
	}
}

func applyEnvLoggingOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	cfg.Logging.AccessLog = envBool("TOOLBOX_ACCESS_LOG", cfg.Logging.AccessLog)
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_ACCESS_LOG_PATH")); v != "" {
		cfg.Logging.AccessLogPath = v
	}
	if v := os.Getenv("TOOLBOX_ACCESS_LOG_FORMAT"); strings.TrimSpace(v) != "" {
		cfg.Logging.AccessLogFormat = v
	}
	if v := strings.TrimSpace(os.Getenv("TOOLBOX_ACCESS_LOG_FORMAT_PRESET")); v != "" {
		cfg.Logging.AccessLogFormatPreset = v
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if strings.TrimSpace(cfg.Runtime.Image) == "" {
		return errors.New("runtime.image is required")
	}
	if cfg.Runtime.ContainerPort > 65535 {
		return fmt.Errorf("runtime.container_port out of range: %d", cfg.Runtime.ContainerPort)
	}
	if cfg.Proxy.ListenPort > 65535 {
		return fmt.Errorf("proxy.listen_port out of range: %d", cfg.Proxy.ListenPort)
	}
	if cfg.MetadataSource.Port > 65535 {
		return fmt.Errorf("metadata_source.port out of range: %d", cfg.MetadataSource.Port)
	}
	if strings.TrimSpace(cfg.MetadataSource.Host) == "" || strings.TrimSpace(cfg.MetadataSource.Database) == "" {
		return errors.New("metadata_source.host and metadata_source.database are required")
	}
	if cfg.Proxy.Watch.Enabled && cfg.Proxy.Watch.DebounceMs <= 0 {
		return errors.New("proxy.watch.debounce_ms must be > 0 when proxy.watch.enabled=true")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error: %q", cfg.Logging.Level)
	}
	return nil
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}
