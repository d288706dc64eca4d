package protocol

import (
	"bytes"
	"encoding/json"
)

// Wire types of the genpass HTTP API.
// This package is shared by the server and its clients.

// StatusResponse reports the module lifecycle state.
type StatusResponse struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// Count is a generation count as sent by a client: a JSON number or a
// string. The raw text is kept so clamping and default handling happen in
// one place on the server.
type Count string

// UnmarshalJSON accepts numbers, strings and null.
func (c *Count) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Count(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*c = Count(n.String())
	}
	return nil
}

// GenerateRequest asks for one generation.
type GenerateRequest struct {
	// Category token, e.g. "pin6". Empty selects password.
	Category string `json:"category"`
	Count    Count  `json:"count"`
}

// GenerateResponse carries the decoded module output.
type GenerateResponse struct {
	HTML      string `json:"html"`
	Elapsed   string `json:"elapsed"`
	Timestamp string `json:"timestamp"`
	Category  string `json:"category"`
	Count     uint32 `json:"count"`
}

// ErrorResponse is returned with every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
}
