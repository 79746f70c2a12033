package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oneplace-ai/toolbox-provisioner/internal/deploy"
	"github.com/oneplace-ai/toolbox-provisioner/internal/requestid"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/proxyconf"
	"github.com/oneplace-ai/toolbox-provisioner/pkg/toolsconfig"
)

// statusFor maps domain errors to HTTP status codes. Order matters: an
// invalid server record also wraps ErrInvalidRoute.
func statusFor(err error) int {
	switch {
	case errors.Is(err, deploy.ErrDeploymentNotFound), errors.Is(err, deploy.ErrServerNotFound):
		return http.StatusNotFound
	case errors.Is(err, deploy.ErrPortInUse):
		return http.StatusConflict
	case errors.Is(err, deploy.ErrInvalidServer):
		return http.StatusUnprocessableEntity
	case errors.Is(err, toolsconfig.ErrMalformedConnection),
		errors.Is(err, proxyconf.ErrInvalidRoute),
		errors.Is(err, deploy.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, proxyconf.ErrInvalidProxyConfig):
		return http.StatusUnprocessableEntity
	case errors.Is(err, proxyconf.ErrReloadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	c.Set(ctxError, err.Error())
	c.AbortWithStatusJSON(status, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString(requestid.HeaderKey),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.Set(ctxError, msg)
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":      msg,
		"request_id": c.GetString(requestid.HeaderKey),
	})
}
