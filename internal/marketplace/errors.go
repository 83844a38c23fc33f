package marketplace

import (
	"errors"
	"fmt"
)

var (
	ErrAPI           = errors.New("marketplace api error")
	ErrOrderNotFound = errors.New("order not found")
)

// APIError reports a non-2xx response (StatusCode > 0) or a transport
// failure (StatusCode == 0, Err set).
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *APIError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAPI, e.Err}
	}
	return []error{ErrAPI}
}

type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  int    `json:"status"`
}
