package protocol

import (
	"encoding/json"
	"testing"
)

func TestGenerateRequestCount(t *testing.T) {
	tests := []struct {
		body string
		want Count
	}{
		{`{"category":"pin4","count":12}`, "12"},
		{`{"category":"pin4","count":"12"}`, "12"},
		{`{"category":"pin4","count":"abc"}`, "abc"},
		{`{"category":"pin4","count":1.5}`, "1.5"},
		{`{"category":"pin4","count":99999999999999999999}`, "99999999999999999999"},
		{`{"category":"pin4","count":null}`, ""},
		{`{"category":"pin4"}`, ""},
	}

	for _, tt := range tests {
		var req GenerateRequest
		if err := json.Unmarshal([]byte(tt.body), &req); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.body, err)
			continue
		}
		if req.Count != tt.want {
			t.Errorf("Count for %s: got %q, want %q", tt.body, req.Count, tt.want)
		}
		if req.Category != "pin4" {
			t.Errorf("Category mismatch: got %s", req.Category)
		}
	}
}

func TestGenerateRequestRejectsObjects(t *testing.T) {
	var req GenerateRequest
	if err := json.Unmarshal([]byte(`{"count":{"n":1}}`), &req); err == nil {
		t.Error("expected error for object count")
	}
}

func TestStatusResponseOmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(StatusResponse{State: "ready"})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"state":"ready"}` {
		t.Errorf("got %s", data)
	}
}
