package server

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/oneplace-ai/toolbox-provisioner/internal/deploy"
	"github.com/oneplace-ai/toolbox-provisioner/internal/logx"
	"github.com/oneplace-ai/toolbox-provisioner/internal/requestid"
	"github.com/oneplace-ai/toolbox-provisioner/internal/version"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/proxyconf"
)

// RouteManager is the subset of *proxyconf.Manager the API drives.
type RouteManager interface {
	AddRoute(ctx context.Context, port int, hostname string) error
	RemoveRoute(ctx context.Context, hostname string) (bool, error)
	Reload(ctx context.Context) error
	Routes() ([]proxyconf.Route, error)
}

type API struct {
	Deploy *deploy.Service
	Routes RouteManager
	Logger *zap.Logger
}

type RouterOptions struct {
	AccessLog       bool
	AccessLogger    *log.Logger
	AccessColor     bool
	AccessFormatter *logx.AccessLogFormatter
}

func NewRouter(api *API, opts RouterOptions) *gin.Engine {
	if api.Logger == nil {
		api.Logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(requestid.Middleware())
	if opts.AccessLog {
		formatter := opts.AccessFormatter
		if formatter == nil {
			formatter, _ = logx.CompileAccessLogFormat("")
		}
		r.Use(requestLogger(opts.AccessLogger, opts.AccessColor, formatter))
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "version": version.Get().Version})
	})

	v1 := r.Group("/v1")
	v1.POST("/servers/:server_id/deploy", api.deployServer)
	v1.GET("/servers/:server_id/tools.yaml", api.previewServer)
	v1.POST("/deploy", api.deployUpload)
	v1.GET("/deployments", api.listDeployments)
	v1.POST("/deployments/:id/stop", api.stopDeployment)
	v1.POST("/deployments/:id/restart", api.restartDeployment)

	v1.GET("/routes", api.listRoutes)
	v1.POST("/routes", api.addRoute)
	v1.DELETE("/routes/:hostname", api.removeRoute)
	v1.POST("/routes/reload", api.reloadRoutes)
	return r
}
