package api

import "github.com/securescan/securescan/db"

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewErrorResponse(err string, details ...string) ErrorResponse {
	resp := ErrorResponse{Error: err}
	if len(details) > 0 {
		resp.Message = details[0]
	}
	return resp
}

// ScanListResponse is a paginated list of scans.
type ScanListResponse struct {
	Scans []db.Scan `json:"scans"`
	Count int64     `json:"count"`
}
