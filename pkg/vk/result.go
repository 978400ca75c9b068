package vk

// Outcome classifies the result of one API call
type Outcome int

const (
	// OutcomeSuccess means the payload was decoded into Value
	OutcomeSuccess Outcome = iota
	// OutcomeAPIError means the API answered with an error envelope
	OutcomeAPIError
	// OutcomeTransportFailure covers network errors, timeouts, non-2xx
	// statuses and bodies that are not JSON
	OutcomeTransportFailure
	// OutcomeMalformed is valid JSON without the expected payload
	OutcomeMalformed
	// OutcomeInvalidRequest means the call was rejected before sending
	OutcomeInvalidRequest
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAPIError:
		return "api_error"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeInvalidRequest:
		return "invalid_request"
	default:
		return "unknown"
	}
}

// Result is the tagged outcome of a fetch. Value is meaningful only for
// OutcomeSuccess and APIError only for OutcomeAPIError; Err describes the
// other outcomes.
type Result[T any] struct {
	Outcome  Outcome
	Value    T
	APIError *APIError
	Err      error
}

// OK reports whether the call succeeded
func (r Result[T]) OK() bool {
	return r.Outcome == OutcomeSuccess
}
