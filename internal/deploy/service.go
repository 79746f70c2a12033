package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oneplace-ai/toolbox-provisioner/pkg/proxyconf"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/toolsconfig"
)

const DefaultContainerPort = 8002

type Options struct {
	Store    Store
	Runtime  Runtime
	Router   Router
	Compiler *toolsconfig.Compiler
	Registry *Registry

	Image         string
	ContainerPort int
	// WorkdirRoot holds one directory per deployment.
	WorkdirRoot string
	// PublicHost is used in status URLs.
	PublicHost string
	Logger     *zap.Logger
}

type Service struct {
	opts Options
	reg  *Registry
	log  *zap.Logger
	now  func() time.Time
}

func NewService(opts Options) (*Service, error) {
	if opts.Runtime == nil {
		return nil, errors.New("deploy: runtime is required")
	}
	if strings.TrimSpace(opts.Image) == "" {
		return nil, errors.New("deploy: image is required")
	}
	if opts.Compiler == nil {
		opts.Compiler = &toolsconfig.Compiler{}
	}
	if opts.ContainerPort <= 0 {
		opts.ContainerPort = DefaultContainerPort
	}
	if strings.TrimSpace(opts.WorkdirRoot) == "" {
		opts.WorkdirRoot = os.TempDir()
	}
	if strings.TrimSpace(opts.PublicHost) == "" {
		opts.PublicHost = "localhost"
	}
	reg := opts.Registry
	if reg == nil {
		reg = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{opts: opts, reg: reg, log: logger.Named("deploy"), now: time.Now}, nil
}

func (s *Service) Registry() *Registry { return s.reg }

// StatusURL is the worker health endpoint reported to clients.
func (s *Service) StatusURL(d *Deployment) string {
	return "http://" + s.opts.PublicHost + ":" + strconv.Itoa(d.HostPort) + "/health"
}

// Preview compiles the tool configuration of a server without deploying.
func (s *Service) Preview(ctx context.Context, serverID string) ([]byte, error) {
	if s.opts.Store == nil {
		return nil, errors.New("deploy: store is not configured")
	}
	if _, err := s.opts.Store.Server(ctx, serverID); err != nil {
		return nil, err
	}
	rows, err := s.opts.Store.ToolRows(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return s.opts.Compiler.Render(rows)
}

// Deploy compiles the server's tools, runs its worker on the server's
// assigned port and routes the server hostname to it.
func (s *Service) Deploy(ctx context.Context, serverID string, hooks []Hook) (*Deployment, error) {
	if s.opts.Store == nil {
		return nil, errors.New("deploy: store is not configured")
	}
	srv, err := s.opts.Store.Server(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if srv.Port < 1 || srv.Port > 65535 {
		return nil, fmt.Errorf("%w: server %s has no usable port (%d)", ErrInvalidServer, serverID, srv.Port)
	}
	hostname := HostnameFromURL(srv.URL)
	if err := proxyconf.ValidateHostname(hostname); err != nil {
		return nil, fmt.Errorf("%w: server %s url %q: %w", ErrInvalidServer, serverID, srv.URL, err)
	}

	rows, err := s.opts.Store.ToolRows(ctx, serverID)
	if err != nil {
		return nil, err
	}
	toolsYAML, err := s.opts.Compiler.Render(rows)
	if err != nil {
		return nil, fmt.Errorf("compile tools for server %s: %w", serverID, err)
	}
	return s.publish(ctx, serverID, toolsYAML, hooks, srv.Port, hostname)
}

type UploadRequest struct {
	ToolsYAML []byte
	Hooks     []Hook
	Port      int
	// Hostname is optional; without it no route is published.
	Hostname string
}

// DeployUpload runs a worker from an uploaded tools.yaml.
func (s *Service) DeployUpload(ctx context.Context, req UploadRequest) (*Deployment, error) {
	if err := toolsconfig.ValidateDocument(req.ToolsYAML); err != nil {
		return nil, fmt.Errorf("%w: tools.yaml: %w", ErrInvalidUpload, err)
	}
	if req.Port < 1 || req.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidUpload, req.Port)
	}
	hostname := strings.TrimSpace(req.Hostname)
	if hostname != "" {
		if err := proxyconf.ValidateHostname(hostname); err != nil {
			return nil, err
		}
	}
	return s.publish(ctx, "", req.ToolsYAML, req.Hooks, req.Port, hostname)
}

func (s *Service) publish(ctx context.Context, serverID string, toolsYAML []byte, hooks []Hook, port int, hostname string) (*Deployment, error) {
	if other, busy := s.reg.ByPort(port); busy {
		return nil, fmt.Errorf("%w: %d (deployment %s)", ErrPortInUse, port, other.ShortID())
	}
	workdir, mounts, err := writeWorkdir(s.opts.WorkdirRoot, toolsYAML, hooks)
	if err != nil {
		if errors.Is(err, ErrInvalidUpload) {
			return nil, err
		}
		return nil, fmt.Errorf("prepare workdir: %w", err)
	}

	ctr, err := s.opts.Runtime.Run(ctx, s.runSpec(port, mounts))
	if err != nil {
		_ = os.RemoveAll(workdir)
		return nil, fmt.Errorf("run worker: %w", err)
	}

	d := &Deployment{
		ContainerID:   ctr.ID,
		ContainerName: ctr.Name,
		ServerID:      serverID,
		Hostname:      hostname,
		HostPort:      port,
		Image:         s.opts.Image,
		Workdir:       workdir,
		Mounts:        mounts,
		RouteStatus:   RouteNone,
		CreatedAt:     s.now().UTC(),
	}

	if hostname != "" && s.opts.Router != nil {
		err := s.opts.Router.AddRoute(ctx, port, hostname)
		switch {
		case err == nil:
			d.RouteStatus = RouteActive
		case errors.Is(err, proxyconf.ErrReloadFailed):
			d.RouteStatus = RouteReloadPending
			s.log.Warn("route written but proxy reload failed",
				zap.String("hostname", hostname), zap.Int("port", port), zap.Error(err))
		default:
			s.teardown(ctx, ctr.ID, workdir)
			return nil, fmt.Errorf("publish route %s: %w", hostname, err)
		}
	}

	s.reg.Put(d)
	s.log.Info("deployment started",
		zap.String("container", d.ShortID()),
		zap.String("server_id", serverID),
		zap.String("hostname", hostname),
		zap.Int("host_port", port),
		zap.String("route_status", d.RouteStatus),
	)
	return d, nil
}

func (s *Service) runSpec(port int, mounts []Mount) RunSpec {
	return RunSpec{
		Image:         s.opts.Image,
		HostPort:      port,
		ContainerPort: s.opts.ContainerPort,
		Mounts:        mounts,
	}
}

func (s *Service) teardown(ctx context.Context, containerID, workdir string) {
	if err := s.opts.Runtime.Stop(context.WithoutCancel(ctx), containerID); err != nil {
		s.log.Warn("teardown: stop container", zap.String("container", containerID), zap.Error(err))
	}
	if err := os.RemoveAll(workdir); err != nil {
		s.log.Warn("teardown: remove workdir", zap.String("workdir", workdir), zap.Error(err))
	}
}

// Stop stops the worker, retracts its route and removes its files. A route
// that was written but whose reload failed does not keep the deployment
// alive.
func (s *Service) Stop(ctx context.Context, id string) (*Deployment, error) {
	d, err := s.reg.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.opts.Runtime.Stop(ctx, d.ContainerID); err != nil {
		return nil, err
	}
	if d.Hostname != "" && s.opts.Router != nil {
		_, err := s.opts.Router.RemoveRoute(ctx, d.Hostname)
		if err != nil && !errors.Is(err, proxyconf.ErrReloadFailed) {
			return nil, fmt.Errorf("retract route %s: %w", d.Hostname, err)
		}
		if err != nil {
			s.log.Warn("route removed but proxy reload failed", zap.String("hostname", d.Hostname), zap.Error(err))
		}
	}
	if err := os.RemoveAll(d.Workdir); err != nil {
		s.log.Warn("remove workdir", zap.String("workdir", d.Workdir), zap.Error(err))
	}
	s.reg.Delete(d.ContainerID)
	s.log.Info("deployment stopped", zap.String("container", d.ShortID()), zap.String("hostname", d.Hostname))
	return d, nil
}

// Restart replaces the worker container with a new one on the same host
// port and mounts. The route is untouched since the port does not change.
func (s *Service) Restart(ctx context.Context, id string) (old string, next *Deployment, err error) {
	d, err := s.reg.Get(id)
	if err != nil {
		return "", nil, err
	}
	if err := s.opts.Runtime.Stop(ctx, d.ContainerID); err != nil {
		return "", nil, err
	}
	spec := s.runSpec(d.HostPort, d.Mounts)
	spec.Image = d.Image
	ctr, err := s.opts.Runtime.Run(ctx, spec)
	if err != nil {
		return "", nil, fmt.Errorf("run worker: %w", err)
	}

	updated := *d
	updated.ContainerID = ctr.ID
	updated.ContainerName = ctr.Name
	s.reg.Rekey(d.ContainerID, &updated)
	s.log.Info("deployment restarted",
		zap.String("old_container", d.ShortID()),
		zap.String("new_container", updated.ShortID()),
		zap.Int("host_port", updated.HostPort),
	)
	return d.ContainerID, &updated, nil
}
