package models

import (
	"encoding/json"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the JSON wrapper of every repository response.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrorData carries the optional diagnostic location of a repository error.
type ErrorData struct {
	File string      `json:"file,omitempty"`
	Line interface{} `json:"line,omitempty"`
}

// ErrorResponse defines API error response format
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
