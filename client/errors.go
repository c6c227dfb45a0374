package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrRefreshSuperseded is returned by an Authorizer whose refresh finished after the session it
// started from was replaced. The newer session must be left alone.
var ErrRefreshSuperseded = errors.New("session changed while refreshing")

// APIError is returned for every non-2xx response.
type APIError struct {
	Status  int
	Message string
	// Payload is the decoded JSON body, or the raw body text when it is not JSON.
	Payload interface{}
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Fields returns the per field messages of a validation failure, if any.
func (e *APIError) Fields() map[string]string {
	m, ok := e.Payload.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m["fields"].(map[string]interface{})
	if !ok {
		return nil
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == status
}

// IsClientError reports whether err is an APIError with a 4xx status.
func IsClientError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status >= 400 && apiErr.Status < 500
}

// newAPIError picks the message from the JSON `message` field, then the raw body, then the status text.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	text := strings.TrimSpace(string(body))

	var payload interface{}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil {
		apiErr.Payload = payload
		if m, ok := payload.(map[string]interface{}); ok {
			if msg, ok := m["message"].(string); ok && msg != "" {
				apiErr.Message = msg
			}
		}
	} else if text != "" {
		apiErr.Payload = text
	}

	if apiErr.Message == "" {
		apiErr.Message = text
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
