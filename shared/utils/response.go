package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-school-tenancy/shared/models"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success  bool                `json:"success"`
	Message  string              `json:"message,omitempty"`
	Data     interface{}         `json:"data,omitempty"`
	Error    string              `json:"error,omitempty"`
	Fields   map[string][]string `json:"fields,omitempty"`
	Field    string              `json:"field,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ErrorResponse sends an error response
func ErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

// ValidationErrorResponse sends a 400 with every failing field
func ValidationErrorResponse(c *gin.Context, verr *models.ValidationError) {
	c.JSON(http.StatusBadRequest, APIResponse{
		Success: false,
		Error:   "Validation failed",
		Fields:  verr.Fields,
	})
}

// ConflictResponse sends a 409 naming the conflicting field
func ConflictResponse(c *gin.Context, field, message string) {
	c.JSON(http.StatusConflict, APIResponse{
		Success: false,
		Error:   message,
		Field:   field,
	})
}

// RedirectResponse tells an API client where to go instead
func RedirectResponse(c *gin.Context, statusCode int, location, message string) {
	c.Header("Location", location)
	c.JSON(statusCode, APIResponse{
		Success:  false,
		Error:    message,
		Redirect: location,
	})
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusBadRequest, message)
}

// UnauthorizedResponse sends a 401 Unauthorized response
func UnauthorizedResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, message)
}

// ForbiddenResponse sends a 403 Forbidden response
func ForbiddenResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusForbidden, message)
}

// NotFoundResponse sends a 404 Not Found response
func NotFoundResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, message)
}

// InternalServerErrorResponse sends a 500 Internal Server Error response
func InternalServerErrorResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusInternalServerError, message)
}

// ServiceUnavailableResponse sends a 503 Service Unavailable response
func ServiceUnavailableResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusServiceUnavailable, message)
}

// CreatedResponse sends a 201 Created response
func CreatedResponse(c *gin.Context, message string, data interface{}) {
	SuccessResponse(c, http.StatusCreated, message, data)
}

// OKResponse sends a 200 OK response
func OKResponse(c *gin.Context, message string, data interface{}) {
	SuccessResponse(c, http.StatusOK, message, data)
}

// ServiceErrorResponse maps an error returned by a service onto a response
func ServiceErrorResponse(c *gin.Context, err error) {
	var (
		verr     *models.ValidationError
		conflict *models.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		ValidationErrorResponse(c, verr)
	case errors.As(err, &conflict):
		ConflictResponse(c, conflict.Field, conflict.Err.Error())
	case errors.Is(err, models.ErrNotFound):
		NotFoundResponse(c, "Resource not found")
	case errors.Is(err, models.ErrForbidden):
		ForbiddenResponse(c, "You do not have permission to perform this action")
	case errors.Is(err, models.ErrInvalidTransition):
		ErrorResponse(c, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrInvalidCredentials), errors.Is(err, models.ErrInvalidTenantCode):
		// one message for every credential failure
		UnauthorizedResponse(c, "Invalid credentials")
	case errors.Is(err, models.ErrTenantSuspended):
		UnauthorizedResponse(c, models.ErrTenantSuspended.Error())
	case errors.Is(err, models.ErrInvalidSession):
		UnauthorizedResponse(c, models.ErrInvalidSession.Error())
	case errors.Is(err, models.ErrUnavailable):
		logrus.WithError(err).Warn("Dependency unavailable")
		ServiceUnavailableResponse(c, models.ErrUnavailable.Error())
	default:
		logrus.WithError(err).Error("Unhandled service error")
		InternalServerErrorResponse(c, "Internal server error")
	}
}
