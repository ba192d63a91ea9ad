package api

import (
	"encoding/json"

	"github.com/openmodeller/omws/ticket"
)

// Documents exchanged over HTTP.

type TicketProgress struct {
	Ticket   ticket.ID `json:"ticket"`
	Progress int       `json:"progress"`
}

type PingResponse struct {
	Status string `json:"status"`
}

type SubmitResponse struct {
	Ticket ticket.ID `json:"ticket"`
}

type ExperimentResponse struct {
	Experiment ticket.ID            `json:"experiment"`
	Jobs       map[string]ticket.ID `json:"jobs"`
}

type ProgressResponse struct {
	Progress []TicketProgress `json:"progress"`
}

type CancelResponse struct {
	Cancelled []ticket.ID `json:"cancelled"`
}

// ResultsResponse maps each ticket with a result to its result document.
type ResultsResponse struct {
	Results map[ticket.ID]json.RawMessage `json:"results"`
}

type StateResponse struct {
	Ticket ticket.ID `json:"ticket"`
	State  string    `json:"state"`
}

// ErrorResponse carries the kind of error (InvalidRequest, ServiceUnavailable,
// NotFound, NotReady or Internal) so that clients can rebuild it.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

const (
	KindInvalidRequest     = "InvalidRequest"
	KindServiceUnavailable = "ServiceUnavailable"
	KindNotFound           = "NotFound"
	KindNotReady           = "NotReady"
	KindInternal           = "Internal"
)

// Routes, relative to the server root.
const (
	PingPath        = "/ping"
	JobsPath        = "/jobs/:type"
	ExperimentsPath = "/experiments"
	ProgressPath    = "/progress"
	CancelPath      = "/cancel"
	ResultPath      = "/tickets/:ticket/result"
	ResultsPath     = "/results"
	LogPath         = "/tickets/:ticket/log"
	StatePath       = "/tickets/:ticket/state"

	// TicketsParam carries comma separated ticket lists.
	TicketsParam = "tickets"

	RequestIDHeader = "X-Request-Id"
)
