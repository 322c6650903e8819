package errors

const (
	HttpInternalError      = "internal_error"
	HttpInvalidQueryError  = "invalid_query"
	HttpInvalidBatchError  = "invalid_batch"
	HttpBatchRejected      = "batch_rejected"
	HttpNotFoundError      = "not_found"
	HttpConsistencyError   = "consistency_violation"
	HttpServiceUnavailable = "service_unavailable"
)

// ErrorResponse is the error response body of the HTTP API.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
