package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studyhub/locsync/pkg/core"
)

type errorResponse struct {
	Error string         `json:"error"`
	Kind  core.ErrorKind `json:"kind,omitempty"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeTrackingError maps an error kind to a status code.
func writeTrackingError(c *gin.Context, err error) {
	kind := core.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case core.KindInvalidCoordinate:
		status = http.StatusBadRequest
	case core.KindNoBaselinePosition:
		status = http.StatusConflict
	case core.KindGeolocationDenied:
		status = http.StatusForbidden
	case core.KindGeolocationUnavailable:
		status = http.StatusServiceUnavailable
	case core.KindGeolocationTimeout:
		status = http.StatusGatewayTimeout
	case core.KindTransientNetwork:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		writeJSON(c, status, errorResponse{Error: "internal error", Kind: kind})
		return
	}
	writeJSON(c, status, errorResponse{Error: err.Error(), Kind: kind})
}
