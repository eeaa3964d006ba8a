package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/derivatives-api/pkg/apperrors"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound               = "NOT_FOUND"
	ErrCodeBadRequest             = "BAD_REQUEST"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeInternalError          = "INTERNAL_ERROR"
	ErrCodeValidationFailed       = "VALIDATION_FAILED"
	ErrCodeDuplicateResource      = "DUPLICATE_RESOURCE"
	ErrCodeUnsupportedType        = "UNSUPPORTED_TYPE"
	ErrCodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	ErrCodeWorkflowStepFailed     = "WORKFLOW_STEP_FAILED"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	var validationErr *apperrors.ValidationError
	var stepErr *apperrors.WorkflowStepError

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	case errors.As(err, &validationErr):
		failWith(c, http.StatusBadRequest, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedContractType),
		errors.Is(err, apperrors.ErrUnsupportedSettlementType):
		failWith(c, http.StatusBadRequest, ErrCodeUnsupportedType, err.Error())
	case errors.Is(err, apperrors.ErrInvalidStateTransition):
		failWith(c, http.StatusConflict, ErrCodeInvalidStateTransition, err.Error())
	case errors.As(err, &stepErr):
		// A failed settlement is a business outcome; the response keeps the
		// failed instruction state alongside the step that broke
		c.JSON(http.StatusUnprocessableEntity, Response{
			Success: false,
			Data:    data,
			Error: &Error{
				Code:    ErrCodeWorkflowStepFailed,
				Message: err.Error(),
			},
		})
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	failWith(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	failWith(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	failWith(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	failWith(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	failWith(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	failWith(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

func failWith(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}
