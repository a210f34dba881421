package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/tenantwatch/internal/httputil"
	"github.com/persistorai/tenantwatch/internal/metrics"
	"github.com/persistorai/tenantwatch/internal/models"
	"github.com/persistorai/tenantwatch/internal/syncer"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeInternalError   = "internal_error"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeValidationError = "validation_error"
)

// respondError writes a standardized JSON error response, pulling the request
// ID from the Gin context (set by the request ID middleware).
func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

// errorMapping pairs a sentinel with its HTTP rendering.
type errorMapping struct {
	err    error
	status int
	code   string
}

var serviceErrors = []errorMapping{
	{models.ErrTenantAccessDenied, http.StatusForbidden, ErrCodeForbidden},
	{models.ErrInsufficientRole, http.StatusForbidden, ErrCodeForbidden},
	{models.ErrTenantNotFound, http.StatusNotFound, ErrCodeNotFound},
	{models.ErrAnomalyNotFound, http.StatusNotFound, ErrCodeNotFound},
	{models.ErrAlertNotFound, http.StatusNotFound, ErrCodeNotFound},
	{models.ErrAlreadyAcknowledged, http.StatusConflict, ErrCodeConflict},
	{models.ErrTenantInactive, http.StatusConflict, ErrCodeConflict},
	{models.ErrDuplicateKey, http.StatusConflict, ErrCodeConflict},
	{models.ErrUnknownJobType, http.StatusBadRequest, ErrCodeValidationError},
	{models.ErrMissingTenant, http.StatusBadRequest, ErrCodeValidationError},
	{models.ErrInvalidTenantID, http.StatusBadRequest, ErrCodeValidationError},
	{models.ErrInvalidStatus, http.StatusBadRequest, ErrCodeValidationError},
	{models.ErrMissingActor, http.StatusBadRequest, ErrCodeValidationError},
	{models.ErrAuditWindow, http.StatusBadRequest, ErrCodeValidationError},
	{syncer.ErrStopped, http.StatusServiceUnavailable, ErrCodeUnavailable},
}

// respondServiceError maps a service error to a response. Unrecognized
// errors are logged and reported as internal errors without detail.
func respondServiceError(c *gin.Context, log *logrus.Logger, err error, action string) {
	for _, m := range serviceErrors {
		if errors.Is(err, m.err) {
			respondError(c, m.status, m.code, m.err.Error())
			return
		}
	}

	log.WithError(err).WithField("request_id", c.GetString("request_id")).Error(action)
	respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
}
