// Package runtime starts and stops toolbox worker containers.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oneplace-ai/toolbox-provisioner/internal/deploy"
)

const (
	DefaultNamePrefix  = "toolbox_"
	DefaultStopTimeout = 10 * time.Second

	managedLabel = "io.oneplace.toolbox.managed"
)

type Options struct {
	// Host overrides DOCKER_HOST when set.
	Host        string
	NamePrefix  string
	StopTimeout time.Duration
	Logger      *zap.Logger
}

// Docker runs workers on a Docker engine.
type Docker struct {
	cli         *client.Client
	prefix      string
	stopTimeout time.Duration
	log         *zap.Logger
}

func NewDocker(opts Options) (*Docker, error) {
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if h := strings.TrimSpace(opts.Host); h != "" {
		clientOpts = append(clientOpts, client.WithHost(h))
	}
	cli, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	d := &Docker{
		cli:         cli,
		prefix:      opts.NamePrefix,
		stopTimeout: opts.StopTimeout,
		log:         opts.Logger,
	}
	if d.prefix == "" {
		d.prefix = DefaultNamePrefix
	}
	if d.stopTimeout <= 0 {
		d.stopTimeout = DefaultStopTimeout
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	d.log = d.log.Named("runtime")
	return d, nil
}

func (d *Docker) Close() error { return d.cli.Close() }

// ContainerName returns prefix followed by 8 random hex digits.
func ContainerName(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Run creates and starts a detached worker publishing spec.ContainerPort on
// spec.HostPort. A container that fails to start is removed again.
func (d *Docker) Run(ctx context.Context, spec deploy.RunSpec) (deploy.Container, error) {
	if strings.TrimSpace(spec.Image) == "" {
		return deploy.Container{}, errors.New("image is required")
	}
	cport, err := nat.NewPort("tcp", strconv.Itoa(spec.ContainerPort))
	if err != nil {
		return deploy.Container{}, fmt.Errorf("container port: %w", err)
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	cfg := &container.Config{
		Image:        spec.Image,
		ExposedPorts: nat.PortSet{cport: struct{}{}},
		Labels:       map[string]string{managedLabel: "true"},
	}
	for k, v := range spec.Env {
		cfg.Env = append(cfg.Env, k+"="+v)
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			cport: []nat.PortBinding{{HostIP: spec.HostIP, HostPort: strconv.Itoa(spec.HostPort)}},
		},
		Mounts: mounts,
	}

	name := ContainerName(d.prefix)
	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return deploy.Container{}, fmt.Errorf("create container %s: %w", name, err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		rmErr := d.cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		if rmErr != nil {
			d.log.Warn("remove failed container", zap.String("container", created.ID), zap.Error(rmErr))
		}
		return deploy.Container{}, fmt.Errorf("start container %s: %w", name, err)
	}
	for _, w := range created.Warnings {
		d.log.Warn("container create warning", zap.String("container", name), zap.String("warning", w))
	}
	d.log.Info("container started",
		zap.String("container", created.ID),
		zap.String("name", name),
		zap.String("image", spec.Image),
		zap.Int("host_port", spec.HostPort),
	)
	return deploy.Container{ID: created.ID, Name: name}, nil
}

// Stop stops and removes the container. A container that no longer exists
// is not an error.
func (d *Docker) Stop(ctx context.Context, id string) error {
	timeout := int(d.stopTimeout / time.Second)
	err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container %s: %w", shortID(id), err)
	}
	err = d.cli.ContainerRemove(ctx, id, container.RemoveOptions{})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("remove container %s: %w", shortID(id), err)
	}
	d.log.Info("container stopped", zap.String("container", id))
	return nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
