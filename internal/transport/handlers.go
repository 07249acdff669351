package transport

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ds124wfegd/espdisplay/internal/entity"
	"github.com/ds124wfegd/espdisplay/internal/pkg/device"
	"github.com/ds124wfegd/espdisplay/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type FlowHandler struct {
	service        service.FlowService
	maxUploadBytes int64
}

func NewFlowHandler(service service.FlowService, maxUploadBytes int64) *FlowHandler {
	return &FlowHandler{service: service, maxUploadBytes: maxUploadBytes}
}

type DeviceHandler struct {
	service service.DeviceService
}

func NewDeviceHandler(service service.DeviceService) *DeviceHandler {
	return &DeviceHandler{service: service}
}

// errorStatus maps domain errors to HTTP codes.
func errorStatus(err error) int {
	var statusErr *device.StatusError
	var netErr net.Error

	switch {
	case errors.Is(err, entity.ErrFlowNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidTarget),
		errors.Is(err, entity.ErrInvalidAddress),
		errors.Is(err, entity.ErrInvalidSpec),
		errors.Is(err, entity.ErrSourceUnreadable):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrFlowBusy),
		errors.Is(err, entity.ErrFlowNotReady),
		errors.Is(err, entity.ErrRetryNotAllowed),
		errors.Is(err, entity.ErrAlreadyRetried),
		errors.Is(err, entity.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, entity.ErrDeviceRejected),
		errors.As(err, &statusErr),
		errors.As(err, &netErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("request failed")
	}
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
