package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"content-regions/errors"
	"content-regions/models"
	"content-regions/services"
)

// writeJSONResponse writes a JSON response with the given status code
func writeJSONResponse(w http.ResponseWriter, logger services.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", err, services.Int("status", statusCode))
	}
}

// writeErrorResponse writes an error response with the given status code
func writeErrorResponse(w http.ResponseWriter, logger services.Logger, statusCode int, message, details string) {
	errorResp := models.APIError{
		Type:    "error",
		Code:    http.StatusText(statusCode),
		Message: message,
		Details: details,
	}

	writeJSONResponse(w, logger, statusCode, errorResp)
}

// writeAppErrorResponse writes an AppError as HTTP response. Anything else
// becomes a 500.
func writeAppErrorResponse(w http.ResponseWriter, logger services.Logger, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		apiError := models.APIError{
			Type:    string(appErr.Type),
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}

		status := appErr.GetHTTPStatusCode()
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", appErr.Cause, services.String("code", appErr.Code))
		} else {
			logger.Debug("request rejected",
				services.String("code", appErr.Code),
				services.String("message", appErr.Message))
		}

		writeJSONResponse(w, logger, status, apiError)
		return
	}

	logger.Error("unexpected error type", err)
	writeErrorResponse(w, logger, http.StatusInternalServerError, "Internal server error", err.Error())
}

// parentFromVars reads the {type} and {id} route variables
func parentFromVars(r *http.Request) (models.ParentRef, error) {
	vars := mux.Vars(r)
	parent := models.ParentRef{Type: vars["type"], ID: vars["id"]}
	if err := validateRequired(map[string]string{"type": parent.Type, "id": parent.ID}); err != nil {
		return models.ParentRef{}, err
	}
	return parent, nil
}

// int64Var parses a numeric route variable
func int64Var(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.NewValidationError(errors.ErrCodeInvalidInput, "Invalid "+name+": "+raw, err)
	}
	return id, nil
}

// validateRequired checks if required fields are present
func validateRequired(fields map[string]string) error {
	for fieldName, value := range fields {
		if value == "" {
			return errors.NewValidationError(
				errors.ErrCodeMissingField,
				"Required field is empty: "+fieldName,
				nil,
			)
		}
	}

	return nil
}
