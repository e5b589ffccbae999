// Package render writes JSON responses and binds JSON requests of the wallet API.
package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// Error kinds in ErrorResponse.Error
const (
	ValidationErrorType = "validation_failed"
	DecodingErrorType   = "decoding_failed"
	ServiceErrorType    = "service_error"
)

// Requests of the API are small: amounts, ids and short texts
const maxBodyBytes = 64 << 10

var validate = validator.New()

func init() {
	configureValidator(validate)
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func JSON(w http.ResponseWriter, data any) {
	JSONWithStatus(w, data, http.StatusOK)
}

// Encoded before the header is written, so encoding failure is still reported as 500
func JSONWithStatus(w http.ResponseWriter, data any, code int) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func ServiceError(w http.ResponseWriter, message string, code int) {
	JSONWithStatus(w, ErrorResponse{Error: ServiceErrorType, Message: message}, code)
}

// Decode JSON body into T and check its validate tags
// On failure the 400 response is written already and the error is returned to stop the handler
func BindAndValidate[T any](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&value); err != nil {
		JSONWithStatus(w, ErrorResponse{Error: DecodingErrorType, Message: decodeMessage(err)}, http.StatusBadRequest)
		return value, err
	}
	if dec.More() {
		err := errors.New("body has data after JSON object")
		JSONWithStatus(w, ErrorResponse{Error: DecodingErrorType, Message: "Request body must be a single JSON object"}, http.StatusBadRequest)
		return value, err
	}

	if err := validate.Struct(value); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			ServiceError(w, "Request can't be validated", http.StatusInternalServerError)
			return value, err
		}
		JSONWithStatus(w, ErrorResponse{
			Error:   ValidationErrorType,
			Message: "Request validation failed",
			Fields:  fieldMessages(errs),
		}, http.StatusBadRequest)
		return value, err
	}

	return value, nil
}

func decodeMessage(err error) string {
	var (
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
		sizeErr   *http.MaxBytesError
	)
	switch {
	case errors.Is(err, io.EOF):
		return "Request body is empty"
	case errors.As(err, &typeErr):
		return fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field)
	case errors.As(err, &syntaxErr):
		return fmt.Sprintf("Malformed JSON at offset %d", syntaxErr.Offset)
	case errors.As(err, &sizeErr):
		return fmt.Sprintf("Request body is larger than %d bytes", sizeErr.Limit)
	default:
		return fmt.Sprintf("Failed to parse JSON: %s", err)
	}
}

// Messages by validate tag. Param is substituted for %s
var tagMessages = map[string]string{
	"required": "This field is required",
	"notblank": "Value must not be blank",
	"gt":       "Value must be greater than %s",
	"max":      "Value is too long (maximum %s)",
	"uuid":     "Value must be a valid UUID",
}

// Keyed by JSON field name
func fieldMessages(errs validator.ValidationErrors) map[string]string {
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		msg, ok := tagMessages[fe.Tag()]
		switch {
		case !ok:
			msg = "Invalid value"
		case fe.Param() != "":
			msg = fmt.Sprintf(msg, fe.Param())
		}
		fields[fe.Field()] = msg
	}
	return fields
}
