// Package deploy provisions toolbox workers: it compiles a tenant's tool
// configuration, runs the worker container and publishes its proxy route.
package deploy

import (
	"context"
	"errors"
	"time"

	"github.com/oneplace-ai/toolbox-provisioner/pkg/toolsconfig"
)

var (
	ErrServerNotFound     = errors.New("server not found")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrInvalidServer      = errors.New("invalid server record")
	ErrInvalidUpload      = errors.New("invalid upload")
	ErrPortInUse          = errors.New("host port already in use")
)

// Route status of a deployment.
const (
	RouteActive        = "active"
	RouteReloadPending = "reload_pending"
	RouteNone          = "none"
)

// Server is the tenant server record: public URL and assigned host port.
type Server struct {
	ID   string
	URL  string
	Port int
}

type Mount struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

type RunSpec struct {
	Image         string
	HostIP        string
	HostPort      int
	ContainerPort int
	Mounts        []Mount
	Env           map[string]string
}

type Container struct {
	ID   string
	Name string
}

// Store loads server records and the joined tool rows of a server.
type Store interface {
	Server(ctx context.Context, serverID string) (Server, error)
	ToolRows(ctx context.Context, serverID string) ([]toolsconfig.JoinedRow, error)
}

type Runtime interface {
	Run(ctx context.Context, spec RunSpec) (Container, error)
	Stop(ctx context.Context, id string) error
}

// Router publishes and retracts hostname routes.
type Router interface {
	AddRoute(ctx context.Context, port int, hostname string) error
	RemoveRoute(ctx context.Context, hostname string) (bool, error)
}

// Hook is one uploaded plugin file, relative to the plugins directory.
type Hook struct {
	Name string
	Data []byte
}

type Deployment struct {
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	ServerID      string    `json:"server_id,omitempty"`
	Hostname      string    `json:"hostname,omitempty"`
	HostPort      int       `json:"host_port"`
	Image         string    `json:"image"`
	Workdir       string    `json:"workdir"`
	Mounts        []Mount   `json:"mounts"`
	RouteStatus   string    `json:"route_status"`
	CreatedAt     time.Time `json:"created_at"`
}

// ShortID is the 12-character container id prefix shown to clients.
func (d *Deployment) ShortID() string {
	if len(d.ContainerID) > 12 {
		return d.ContainerID[:12]
	}
	return d.ContainerID
}
