package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "pattern-scanner/internal/errors"
	"pattern-scanner/internal/resilience"
)

// APIResponse represents standard API response.
type APIResponse struct {
	Status  int         `json:"status" example:"200"`
	Message string      `json:"message" example:"OK"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationError represents validation error detail.
type ValidationError struct {
	Code    string                 `json:"code,omitempty" example:"ERR_REQUIRED"`
	Field   string                 `json:"field,omitempty" example:"ohlc[0].close"`
	Message string                 `json:"message,omitempty" example:"close is required"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// DataResponse writes API response with status and data.
func DataResponse(c echo.Context, statusCode int, data interface{}) error {
	return c.JSON(statusCode, APIResponse{
		Status:  statusCode,
		Message: http.StatusText(statusCode),
		Data:    data,
	})
}

// SuccessResponse writes success response.
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, data)
}

// BadRequestResponse writes bad request error.
func BadRequestResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusBadRequest, data)
}

// NotFoundResponse writes not found error.
func NotFoundResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusNotFound, data)
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, "Something went wrong")
}

// AppErrorResponse maps a domain error onto an HTTP response.
func AppErrorResponse(c echo.Context, err error) error {
	var verr *apperrors.ValidationError
	switch {
	case apperrors.As(err, &verr):
		return BadRequestResponse(c, []ValidationError{{
			Code:    "ERR_INVALID",
			Field:   verr.Field,
			Message: verr.Message,
		}})
	case apperrors.Is(err, apperrors.ErrInsufficientData):
		return BadRequestResponse(c, []ValidationError{{
			Code:    "ERR_INSUFFICIENT_DATA",
			Message: err.Error(),
		}})
	case apperrors.Is(err, apperrors.ErrDataNotFound):
		return NotFoundResponse(c, err.Error())
	case apperrors.Is(err, resilience.ErrCircuitOpen):
		return DataResponse(c, http.StatusServiceUnavailable, "candle store unavailable")
	default:
		return InternalServerErrorResponse(c)
	}
}
