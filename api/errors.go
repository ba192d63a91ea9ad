package api

import "fmt"

// InvalidRequest means the caller sent something that will never succeed as is.
type InvalidRequest struct {
	Message string
}

func (e *InvalidRequest) Error() string {
	return "invalid request: " + e.Message
}

func NewInvalidRequest(format string, args ...interface{}) *InvalidRequest {
	return &InvalidRequest{Message: fmt.Sprintf(format, args...)}
}

// ServiceUnavailable means the service is not taking requests right now.
type ServiceUnavailable struct {
	Message string
}

func (e *ServiceUnavailable) Error() string {
	return "service unavailable: " + e.Message
}

// NotFound means the ticket, or the artifact asked for, does not exist.
type NotFound struct {
	Message string
}

func (e *NotFound) Error() string {
	return "not found: " + e.Message
}

// NotReady means the ticket exists but has not finished.
type NotReady struct {
	Message string
}

func (e *NotReady) Error() string {
	return "not ready: " + e.Message
}
