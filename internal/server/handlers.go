package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oneplace-ai/toolbox-provisioner/internal/deploy"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/proxyconf"
)

const maxUploadFileBytes = 8 << 20

type deployResponse struct {
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	HostPort      int    `json:"host_port"`
	Hostname      string `json:"hostname,omitempty"`
	RouteStatus   string `json:"route_status"`
	StatusURL     string `json:"status_url"`
}

func (a *API) deployed(c *gin.Context, d *deploy.Deployment) {
	c.Set(ctxDeployment, d.ShortID())
	c.Set(ctxHostname, d.Hostname)
	c.Set(ctxHostPort, d.HostPort)
	c.Set(ctxRouteStatus, d.RouteStatus)
	c.JSON(http.StatusCreated, deployResponse{
		ContainerID:   d.ShortID(),
		ContainerName: d.ContainerName,
		HostPort:      d.HostPort,
		Hostname:      d.Hostname,
		RouteStatus:   d.RouteStatus,
		StatusURL:     a.Deploy.StatusURL(d),
	})
}

func (a *API) deployServer(c *gin.Context) {
	serverID := strings.TrimSpace(c.Param("server_id"))
	c.Set(ctxServerID, serverID)

	hooks, err := formHooks(c, "hooks")
	if err != nil {
		writeError(c, err)
		return
	}
	d, err := a.Deploy.Deploy(c.Request.Context(), serverID, hooks)
	if err != nil {
		a.Logger.Warn("deploy failed", zap.String("server_id", serverID), zap.Error(err))
		writeError(c, err)
		return
	}
	a.deployed(c, d)
}

func (a *API) previewServer(c *gin.Context) {
	serverID := strings.TrimSpace(c.Param("server_id"))
	c.Set(ctxServerID, serverID)
	out, err := a.Deploy.Preview(c.Request.Context(), serverID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", out)
}

func (a *API) deployUpload(c *gin.Context) {
	fh, err := c.FormFile("tools_yaml")
	if err != nil {
		badRequest(c, "tools_yaml file is required")
		return
	}
	toolsYAML, err := readFormFile(fh)
	if err != nil {
		writeError(c, err)
		return
	}
	hooks, err := formHooks(c, "hooks_blob")
	if err != nil {
		writeError(c, err)
		return
	}
	port, err := strconv.Atoi(strings.TrimSpace(c.PostForm("port")))
	if err != nil {
		badRequest(c, "port must be an integer")
		return
	}
	d, err := a.Deploy.DeployUpload(c.Request.Context(), deploy.UploadRequest{
		ToolsYAML: toolsYAML,
		Hooks:     hooks,
		Port:      port,
		Hostname:  c.PostForm("hostname"),
	})
	if err != nil {
		a.Logger.Warn("upload deploy failed", zap.Int("port", port), zap.Error(err))
		writeError(c, err)
		return
	}
	a.deployed(c, d)
}

func (a *API) listDeployments(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"deployments": a.Deploy.Registry().List()})
}

func (a *API) stopDeployment(c *gin.Context) {
	id := c.Param("id")
	c.Set(ctxDeployment, id)
	d, err := a.Deploy.Stop(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(ctxHostname, d.Hostname)
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "container_id": d.ShortID()})
}

func (a *API) restartDeployment(c *gin.Context) {
	id := c.Param("id")
	c.Set(ctxDeployment, id)
	oldID, d, err := a.Deploy.Restart(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set(ctxHostPort, d.HostPort)
	old := oldID
	if len(old) > 12 {
		old = old[:12]
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "restarted",
		"old_container": old,
		"new_container": d.ShortID(),
		"host_port":     d.HostPort,
	})
}

func (a *API) listRoutes(c *gin.Context) {
	routes, err := a.Routes.Routes()
	if err != nil {
		writeError(c, err)
		return
	}
	if routes == nil {
		routes = []proxyconf.Route{}
	}
	c.JSON(http.StatusOK, gin.H{"routes": routes})
}

type addRouteRequest struct {
	Port     int    `json:"port"`
	Hostname string `json:"hostname"`
}

func (a *API) addRoute(c *gin.Context) {
	var req addRouteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json body: "+err.Error())
		return
	}
	hostname := strings.TrimSpace(req.Hostname)
	c.Set(ctxHostname, hostname)
	c.Set(ctxHostPort, req.Port)
	if err := a.Routes.AddRoute(c.Request.Context(), req.Port, hostname); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "added", "hostname": hostname, "port": req.Port})
}

func (a *API) removeRoute(c *gin.Context) {
	hostname := strings.TrimSpace(c.Param("hostname"))
	c.Set(ctxHostname, hostname)
	removed, err := a.Routes.RemoveRoute(c.Request.Context(), hostname)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed, "hostname": hostname})
}

func (a *API) reloadRoutes(c *gin.Context) {
	if err := a.Routes.Reload(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

// formHooks reads every file of a multipart field. Non-multipart requests
// carry no hooks.
func formHooks(c *gin.Context, field string) ([]deploy.Hook, error) {
	form, err := c.MultipartForm()
	if errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", deploy.ErrInvalidUpload, err)
	}
	files := form.File[field]
	hooks := make([]deploy.Hook, 0, len(files))
	for _, fh := range files {
		data, err := readFormFile(fh)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, deploy.Hook{Name: fh.Filename, Data: data})
	}
	return hooks, nil
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxUploadFileBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", deploy.ErrInvalidUpload, fh.Filename, maxUploadFileBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", deploy.ErrInvalidUpload, fh.Filename, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", deploy.ErrInvalidUpload, fh.Filename, err)
	}
	if len(data) > maxUploadFileBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", deploy.ErrInvalidUpload, fh.Filename, maxUploadFileBytes)
	}
	return data, nil
}
