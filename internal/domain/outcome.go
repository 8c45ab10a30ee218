package domain

import "net/http"

// StatusCode classifies the result of a saga or credential operation,
// independent of the transport it is reported over.
type StatusCode int

const (
	StatusOK StatusCode = iota
	StatusBadRequest
	StatusForbidden
	StatusConflict
	StatusPartialFailure
	StatusInternalError
)

// HTTPStatus maps the outcome class to its HTTP representation. Partial
// failures surface as Multi-Status.
func (s StatusCode) HTTPStatus() int {
	switch s {
	case StatusOK:
		return http.StatusOK
	case StatusBadRequest:
		return http.StatusBadRequest
	case StatusForbidden:
		return http.StatusForbidden
	case StatusConflict:
		return http.StatusConflict
	case StatusPartialFailure:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBadRequest:
		return "bad_request"
	case StatusForbidden:
		return "forbidden"
	case StatusConflict:
		return "conflict"
	case StatusPartialFailure:
		return "partial_failure"
	default:
		return "internal_error"
	}
}

// SagaOutcome is the unit returned by every saga and credential operation.
// A step contributes either to Messages or to Errors, never both.
type SagaOutcome struct {
	Status   StatusCode `json:"-"`
	Messages []string   `json:"messages,omitempty"`
	Errors   []string   `json:"errors,omitempty"`
}

// Succeeded reports an OK outcome.
func (o SagaOutcome) Succeeded() bool { return o.Status == StatusOK }

// OutcomeOK builds a success outcome with one message.
func OutcomeOK(message string) SagaOutcome {
	return SagaOutcome{Status: StatusOK, Messages: []string{message}}
}

// OutcomeError builds a failure outcome with one error string.
func OutcomeError(status StatusCode, message string) SagaOutcome {
	return SagaOutcome{Status: status, Errors: []string{message}}
}
