package server

import (
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/oneplace-ai/toolbox-provisioner/internal/logx"
	"github.com/oneplace-ai/toolbox-provisioner/internal/requestid"
)

// Context keys handlers set for the access log.
const (
	ctxServerID    = "toolbox.server_id"
	ctxDeployment  = "toolbox.deployment"
	ctxHostname    = "toolbox.hostname"
	ctxHostPort    = "toolbox.host_port"
	ctxRouteStatus = "toolbox.route_status"
	ctxError       = "toolbox.error"
)

type contextFieldSpec struct {
	ctxKey string
	logKey string
}

var accessLogContextFieldSpecs = []contextFieldSpec{
	{ctxKey: ctxServerID, logKey: "server_id"},
	{ctxKey: ctxDeployment, logKey: "deployment"},
	{ctxKey: ctxHostname, logKey: "hostname"},
	{ctxKey: ctxHostPort, logKey: "host_port"},
	{ctxKey: ctxRouteStatus, logKey: "route_status"},
	{ctxKey: ctxError, logKey: "error"},
}

func requestLogger(l *log.Logger, color bool, formatter *logx.AccessLogFormatter) gin.HandlerFunc {
	if l == nil {
		l = log.New(os.Stdout, "", 0)
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		latency := time.Since(start)
		fields := map[string]any{
			"request_id": c.GetString(requestid.HeaderKey),
			"latency_ms": latency.Milliseconds(),
		}
		copyContextFieldsBySpec(c, fields, accessLogContextFieldSpecs)
		l.Println(formatter.Format(logx.AccessRecord{
			Time:     time.Now(),
			Status:   c.Writer.Status(),
			Latency:  latency,
			ClientIP: c.ClientIP(),
			Method:   c.Request.Method,
			Path:     c.Request.URL.Path,
			Fields:   fields,
		}, color))
	}
}

func copyContextFieldsBySpec(c *gin.Context, dst map[string]any, specs []contextFieldSpec) {
	for _, s := range specs {
		if v, ok := c.Get(s.ctxKey); ok {
			dst[s.logKey] = v
		}
	}
}
