package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/mockbtc/backend/internal/apperr"
	"github.com/mockbtc/backend/internal/logger"
	"github.com/shopspring/decimal"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    apperr.ErrorCode  `json:"code,omitempty"`    // Stable error class
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a validator that also understands decimal amounts
func NewValidationHelper() *ValidationHelper {
	v := validator.New()
	v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		switch d := fl.Field().Interface().(type) {
		case decimal.Decimal:
			return d.IsPositive()
		case *decimal.Decimal:
			return d != nil && d.IsPositive()
		}
		return false
	})
	return &ValidationHelper{validator: v}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	if statusCode == http.StatusBadRequest {
		errorResp.Code = apperr.ValidationError
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range fieldErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendAppError writes err with the status of its class. Errors that are
// not AppErrors are logged and reported generically.
func SendAppError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code == apperr.InternalError {
		logger.Errorf("[API] internal error: %v", err)
		appErr = apperr.New(apperr.InternalError, "internal server error")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.HTTPStatus())

	errorResp := ErrorResponse{Error: appErr.Message, Code: appErr.Code}
	if appErr.Details != "" {
		errorResp.Details = map[string]string{"reason": appErr.Details}
	}
	json.NewEncoder(w).Encode(errorResp)
}
