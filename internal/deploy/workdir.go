package deploy

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	toolsFile  = "tools.yaml"
	pluginsDir = "plugins"

	containerPluginsDir = "/plugins"
	containerToolsFile  = "/app/tools.yaml"
)

// writeWorkdir creates a fresh deployment directory under root holding
// tools.yaml and the plugins tree, and returns it with the worker mounts.
func writeWorkdir(root string, toolsYAML []byte, hooks []Hook) (string, []Mount, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return "", nil, err
	}
	dir, err := os.MkdirTemp(root, "toolbox_")
	if err != nil {
		return "", nil, err
	}
	// Bind mounts need absolute sources.
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	plugins := filepath.Join(dir, pluginsDir)
	if err := os.Mkdir(plugins, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	tools := filepath.Join(dir, toolsFile)
	// #nosec G306 -- the worker container reads it as another user.
	if err := os.WriteFile(tools, toolsYAML, 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	for _, h := range hooks {
		if err := writeHook(plugins, h); err != nil {
			_ = os.RemoveAll(dir)
			return "", nil, err
		}
	}
	mounts := []Mount{
		{Source: plugins, Target: containerPluginsDir, ReadOnly: true},
		{Source: tools, Target: containerToolsFile, ReadOnly: true},
	}
	return dir, mounts, nil
}

// writeHook stores one .py hook below plugins, keeping nested directories.
func writeHook(plugins string, h Hook) error {
	name, err := cleanHookName(h.Name)
	if err != nil {
		return err
	}
	dst := filepath.Join(plugins, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	// #nosec G306 -- the worker container reads it as another user.
	return os.WriteFile(dst, h.Data, 0o644)
}

func cleanHookName(name string) (string, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if raw == "" {
		return "", fmt.Errorf("%w: hook file name is empty", ErrInvalidUpload)
	}
	if strings.ToLower(filepath.Ext(raw)) != ".py" {
		return "", fmt.Errorf("%w: unsupported hooks format %q", ErrInvalidUpload, filepath.Ext(raw))
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("%w: hook path %q must be relative", ErrInvalidUpload, name)
	}
	for _, part := range strings.Split(raw, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: hook path %q escapes plugins directory", ErrInvalidUpload, name)
		}
	}
	clean := filepath.ToSlash(filepath.Clean(raw))
	if clean == "." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: hook path %q", ErrInvalidUpload, name)
	}
	return clean, nil
}

// HostnameFromURL extracts the host name of a server URL. Values without a
// scheme are treated as host[:port][/path].
func HostnameFromURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	return strings.TrimSuffix(strings.ToLower(s), ".")
}
