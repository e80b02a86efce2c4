package avail

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ParseError means some text didn't fit the structure we expected (an
// address, phone number, URL, etc).
type ParseError struct {
	Message string
	Text    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", e.Message, e.Text)
}

func newParseError(message string, text string) *ParseError {
	return &ParseError{Message: message, Text: text}
}

// ApiError is a non-2xx response (or an error envelope) from an outbound call.
type ApiError struct {
	StatusCode int
	Url        string
	Message    string
	Code       string
	Body       string
}

func (e *ApiError) Error() string {
	if len(e.Message) > 0 {
		return fmt.Sprintf("%d %s from %s", e.StatusCode, e.Message, e.Url)
	}
	return fmt.Sprintf("%d %s from %s", e.StatusCode, http.StatusText(e.StatusCode), e.Url)
}

func (e *ApiError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// NewApiError builds an ApiError, pulling a message out of a JSON error
// envelope like {"error": {"message": "...", "code": "..."}} if present.
func NewApiError(statusCode int, url string, body []byte) *ApiError {
	apiErr := &ApiError{StatusCode: statusCode, Url: url}

	bodyText := string(body)
	if len(bodyText) > 512 {
		bodyText = bodyText[:512]
	}
	apiErr.Body = bodyText

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return apiErr
	}

	var detail struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		apiErr.Message = detail.Message
		apiErr.Code = detail.Code
		return apiErr
	}

	var message string
	if err := json.Unmarshal(envelope.Error, &message); err == nil {
		apiErr.Message = message
	}
	return apiErr
}

// IsFeedNotEnabled reports whether err is a 404 from a feed host, which
// means the feed isn't turned on there.
func IsFeedNotEnabled(err error) bool {
	var apiErr *ApiError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

const (
	ErrorCodeValidation       = "validation_error"
	ErrorCodeInvalidJSON      = "invalid_json"
	ErrorCodeMissingName      = "missing_name"
	ErrorCodeIdentityConflict = "identity_conflict"
	ErrorCodeNotAuthorized    = "not_authorized"
)

// ValidationError means an update payload failed its schema check.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Field) > 0 {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) HttpStatus() int {
	if e.Code == ErrorCodeInvalidJSON {
		return http.StatusBadRequest
	}
	return http.StatusUnprocessableEntity
}

// IdentityConflictError means a record's external ids resolved to more than
// one known location.
type IdentityConflictError struct {
	ExternalIds ExternalIdList
	LocationIds []string
}

func (e *IdentityConflictError) Error() string {
	ids := make([]string, 0, len(e.ExternalIds))
	for _, id := range e.ExternalIds {
		ids = append(ids, id.Key())
	}
	return fmt.Sprintf("external ids [%s] match multiple locations: %s",
		strings.Join(ids, ", "), strings.Join(e.LocationIds, ", "))
}

func (e *IdentityConflictError) HttpStatus() int {
	return http.StatusConflict
}
