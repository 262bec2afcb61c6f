package dto

// ErrorResponse is the body of every non-2xx API response. Code is a stable
// machine-readable value such as "integrity_error".
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}
