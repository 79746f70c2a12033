package proxyconf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const DefaultCommandTimeout = 30 * time.Second

var (
	DefaultValidateCmd = []string{"nginx", "-t"}
	DefaultReloadCmd   = []string{"systemctl", "reload", "nginx"}
)

type Options struct {
	// Path is the proxy configuration file holding the tenant server blocks.
	Path           string
	ValidateCmd    []string
	ReloadCmd      []string
	CommandTimeout time.Duration
	Runner         Runner
	Template       TemplateParams
	// Backup copies the previous file to Path.bak.<timestamp> before each
	// write.
	Backup bool
	Logger *zap.Logger
}

// Route is one server block of the managed file.
type Route struct {
	Hostnames []string `json:"hostnames"`
	Port      int      `json:"port,omitempty"`
}

// Manager mutates the proxy configuration file. Every mutation runs
// read, write, validate, then commit or rollback, under one lock.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu     sync.Mutex
	digest [32]byte
}

func NewManager(opts Options) (*Manager, error) {
	opts.Path = strings.TrimSpace(opts.Path)
	if opts.Path == "" {
		return nil, errors.New("proxy config path is empty")
	}
	if len(opts.ValidateCmd) == 0 {
		opts.ValidateCmd = DefaultValidateCmd
	}
	if len(opts.ReloadCmd) == 0 {
		opts.ReloadCmd = DefaultReloadCmd
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Runner == nil {
		opts.Runner = ExecRunner{}
	}
	opts.Template = opts.Template.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{opts: opts, log: logger.Named("proxyconf")}
	b, err := os.ReadFile(opts.Path)
	switch {
	case err == nil:
		m.digest = blake3.Sum256(b)
	case errors.Is(err, fs.ErrNotExist):
		m.digest = blake3.Sum256(nil)
	default:
		return nil, ioFailure("read", opts.Path, err)
	}
	return m, nil
}

func (m *Manager) Path() string { return m.opts.Path }

// AddRoute routes hostname to the local worker port. An existing server
// block for hostname is replaced in place; otherwise the new block is
// appended. Adding an identical route again leaves the file untouched.
func (m *Manager) AddRoute(ctx context.Context, port int, hostname string) error {
	block, err := RenderServerBlock(m.opts.Template, port, hostname)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	orig, err := m.read()
	if err != nil {
		return err
	}
	next, replaced := replaceServerBlock(string(orig), hostname, block)
	if !replaced {
		var b strings.Builder
		b.Grow(len(orig) + len(block) + 1)
		b.Write(orig)
		if len(orig) > 0 && orig[len(orig)-1] != '\n' {
			// The file keeps its missing final newline.
			b.WriteByte('\n')
			b.WriteString(strings.TrimSuffix(block, "\n"))
		} else {
			b.WriteString(block)
		}
		next = b.String()
	}
	if next == string(orig) {
		m.log.Debug("route unchanged", zap.String("hostname", hostname), zap.Int("port", port))
		return nil
	}
	if err := m.commit(ctx, orig, []byte(next)); err != nil {
		return err
	}
	m.log.Info("route added", zap.String("hostname", hostname), zap.Int("port", port), zap.Bool("replaced", replaced))
	return nil
}

// RemoveRoute drops every server block listing hostname in a server_name
// directive. It reports false without touching the file when nothing
// matches. A file without a final newline keeps that shape, so removing a
// route added by AddRoute restores the previous content byte for byte.
func (m *Manager) RemoveRoute(ctx context.Context, hostname string) (bool, error) {
	hostname = strings.TrimSpace(hostname)
	if err := ValidateHostname(hostname); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	orig, err := m.read()
	if err != nil {
		return false, err
	}
	blocks := SplitBlocks(string(orig))
	kept := blocks[:0:0]
	for _, b := range blocks {
		if IsServerBlock(b) && hasServerName(b, hostname) {
			continue
		}
		kept = append(kept, b)
	}
	if len(kept) == len(blocks) {
		return false, nil
	}
	next := JoinBlocks(kept)
	if !bytes.HasSuffix(orig, []byte("\n")) {
		next = strings.TrimSuffix(next, "\n")
	}
	if err := m.commit(ctx, orig, []byte(next)); err != nil {
		return false, err
	}
	m.log.Info("route removed", zap.String("hostname", hostname))
	return true, nil
}

// Reload runs only the reload command, e.g. after an earlier ErrReloadFailed.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.run(ctx, ErrReloadFailed, m.opts.ReloadCmd); err != nil {
		return err
	}
	m.log.Info("proxy reloaded")
	return nil
}

// Routes lists the server blocks of the file in order.
func (m *Manager) Routes() ([]Route, error) {
	m.mu.Lock()
	b, err := m.read()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var routes []Route
	for _, block := range SplitBlocks(string(b)) {
		if !IsServerBlock(block) {
			continue
		}
		routes = append(routes, Route{Hostnames: ServerNames(block), Port: upstreamPort(block)})
	}
	return routes, nil
}

// CheckDrift reports whether the file on disk differs from what the manager
// last committed.
func (m *Manager) CheckDrift() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := os.ReadFile(m.opts.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, ioFailure("read", m.opts.Path, err)
	}
	return blake3.Sum256(b) != m.digest, nil
}

// Rebase accepts the current file content as committed, e.g. after an
// operator edited it by hand.
func (m *Manager) Rebase() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, err := os.ReadFile(m.opts.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return ioFailure("read", m.opts.Path, err)
	}
	m.digest = blake3.Sum256(b)
	return nil
}

func (m *Manager) read() ([]byte, error) {
	b, err := os.ReadFile(m.opts.Path)
	if err != nil {
		return nil, ioFailure("read", m.opts.Path, err)
	}
	return b, nil
}

// commit writes next, validates it and reloads the proxy. A failed
// validation restores orig; a failed reload keeps next on disk.
func (m *Manager) commit(ctx context.Context, orig, next []byte) error {
	if err := writeAtomic(m.opts.Path, next, m.opts.Backup); err != nil {
		return ioFailure("write", m.opts.Path, err)
	}
	if err := m.run(ctx, ErrInvalidProxyConfig, m.opts.ValidateCmd); err != nil {
		if rbErr := writeAtomic(m.opts.Path, orig, false); rbErr != nil {
			m.log.Error("rollback failed", zap.String("path", m.opts.Path), zap.Error(rbErr))
			m.digest = blake3.Sum256(next)
			return errors.Join(err, ioFailure("rollback", m.opts.Path, rbErr))
		}
		m.log.Warn("proxy config rejected, rolled back", zap.String("path", m.opts.Path), zap.Error(err))
		return err
	}
	m.digest = blake3.Sum256(next)
	return m.run(ctx, ErrReloadFailed, m.opts.ReloadCmd)
}

// run executes one external step. Caller cancellation does not interrupt a
// started step; only CommandTimeout does.
func (m *Manager) run(ctx context.Context, step error, argv []string) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.CommandTimeout)
	defer cancel()

	start := time.Now()
	out, err := m.opts.Runner.Run(cctx, argv)
	if err == nil && cctx.Err() != nil {
		err = cctx.Err()
	}
	m.log.Debug("proxy command",
		zap.Strings("argv", argv),
		zap.Duration("took", time.Since(start)),
		zap.Bool("ok", err == nil),
	)
	if err != nil {
		return &CommandError{Step: step, Command: argv, Output: string(bytes.TrimSpace(out)), Err: err}
	}
	return nil
}

// replaceServerBlock swaps the first server block naming hostname for block
// and drops any further ones. The replacement keeps the line ending of the
// block it replaces.
func replaceServerBlock(text, hostname, block string) (string, bool) {
	blocks := SplitBlocks(text)
	out := make([]string, 0, len(blocks))
	replaced := false
	for _, b := range blocks {
		if !IsServerBlock(b) || !hasServerName(b, hostname) {
			out = append(out, b)
			continue
		}
		if replaced {
			continue
		}
		replaced = true
		nb := leadingSpace(b) + block
		if !strings.HasSuffix(b, "\n") {
			nb = strings.TrimSuffix(nb, "\n")
		}
		out = append(out, nb)
	}
	return JoinBlocks(out), replaced
}

func leadingSpace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t\r\n"))]
}

func (r Route) String() string {
	return fmt.Sprintf("%s -> localhost:%d", strings.Join(r.Hostnames, " "), r.Port)
}
