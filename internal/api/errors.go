package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrConflict matches a ServiceError whose status is 409, i.e. the service
// rejected a write because the record changed underneath it.
var ErrConflict = errors.New("conflict")

// ServiceError is a non-2xx response from the device service.
type ServiceError struct {
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	if e == nil {
		return "device service error"
	}
	return fmt.Sprintf("device service returned %d: %s", e.Status, e.Message)
}

// Is reports conflicts as ErrConflict so callers can use errors.Is.
func (e *ServiceError) Is(target error) bool {
	return target == ErrConflict && e != nil && e.Status == http.StatusConflict
}

// NetworkError is a transport failure, or a request that kept failing
// after its retry budget was spent.
type NetworkError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "network error"
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Message extracts the human-readable message carried by a ServiceError
// anywhere in err's chain. Any other error yields fallback.
func Message(err error, fallback string) string {
	var sErr *ServiceError
	if errors.As(err, &sErr) && sErr.Message != "" {
		return sErr.Message
	}
	return fallback
}

// errorBody is the error envelope the device service writes on failure.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
