package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"vigil/core"
	"vigil/storage"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxErrorMessageLength = 512

var (
	connStringPattern = regexp.MustCompile(`(?:sqlite|redis|kafka|file)://[^\s"']+`)
	filePathPattern   = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/])+[^\\/:*?"<>|\s]+`)
	secretPattern     = regexp.MustCompile(`(?i)(password|secret|token|key|credential)[:=]\s*["']?[^"'\s]+["']?`)
)

// validate checks request structs; field names in messages follow the json tags
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// sanitizeErrorMessage strips connection strings, paths and secrets from
// messages returned to clients
func sanitizeErrorMessage(message string) string {
	message = connStringPattern.ReplaceAllString(message, "[CONNECTION]")
	message = filePathPattern.ReplaceAllString(message, "[FILE_PATH]")
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")

	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength-3] + "..."
	}
	return message
}

// writeError logs the full error and writes a sanitized message to the client
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	if logger != nil {
		fields := []interface{}{"status_code", statusCode}
		if err != nil {
			fields = append(fields, "error", err.Error())
		}
		if statusCode >= http.StatusInternalServerError {
			logger.Errorw(message, fields...)
		} else {
			logger.Debugw(message, fields...)
		}
	}

	http.Error(w, sanitizeErrorMessage(message), statusCode)
}

// statusFor maps the error taxonomy to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrDuplicateIndicator):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status its type maps to. Client errors
// carry the error text; server errors carry only message.
func (a *API) respondError(w http.ResponseWriter, err error, message string) {
	status := statusFor(err)
	if status < http.StatusInternalServerError {
		message = err.Error()
	}
	writeError(w, status, message, err, a.logger)
}

func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// decodeRequest reads a size-limited JSON body into dst and runs its
// validate tags. On failure the error response is already written.
func (a *API) decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.MaxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		a.writeDecodeError(w, err)
		return false
	}
	return a.validateRequest(w, dst)
}

func (a *API) writeDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var unmarshalTypeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError

	switch {
	case errors.As(err, &maxBytesError):
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err, a.logger)
	case errors.As(err, &syntaxError):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON syntax at byte offset %d", syntaxError.Offset), err, a.logger)
	case errors.As(err, &unmarshalTypeError):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid type for field '%s': expected %s", unmarshalTypeError.Field, unmarshalTypeError.Type), err, a.logger)
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Request contains %s", strings.TrimPrefix(err.Error(), "json: ")), err, a.logger)
	default:
		writeError(w, http.StatusBadRequest, "Invalid request body", err, a.logger)
	}
}

func (a *API) validateRequest(w http.ResponseWriter, req interface{}) bool {
	err := validate.Struct(req)
	if err == nil {
		return true
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		message := fmt.Sprintf("Validation failed: field '%s' failed '%s'", fe.Field(), fe.Tag())
		if fe.Param() != "" {
			message += "=" + fe.Param()
		}
		writeError(w, http.StatusBadRequest, message, err, a.logger)
		return false
	}
	writeError(w, http.StatusBadRequest, "Validation failed", err, a.logger)
	return false
}

// intQuery parses an optional integer query parameter
func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, core.NewValidationError(name, "%s must be an integer", name)
	}
	return n, nil
}
