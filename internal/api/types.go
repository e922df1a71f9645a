package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"querychat/internal/schema"
)

type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id"`
}

type SQLRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type SQLResponse struct {
	Result    SQLResult `json:"result"`
	Query     string    `json:"query,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

type SQLResult struct {
	Success      bool            `json:"success"`
	Data         []schema.Record `json:"data,omitempty"`
	AffectedRows *int64          `json:"affected_rows,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// UnmarshalJSON also accepts the looser shapes older backends emit for
// "result": a bare array of rows, or a bare error string.
func (r *SQLResult) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = SQLResult{}
		return nil
	}
	switch data[0] {
	case '[':
		var rows []schema.Record
		if err := json.Unmarshal(data, &rows); err != nil {
			return fmt.Errorf("decode result rows: %w", err)
		}
		*r = SQLResult{Success: true, Data: rows}
		return nil
	case '"':
		var msg string
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		*r = SQLResult{Success: false, Error: msg}
		return nil
	}

	type plain SQLResult
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	*r = SQLResult(p)
	return nil
}

type SessionIDResponse struct {
	SessionID string `json:"session_id"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
