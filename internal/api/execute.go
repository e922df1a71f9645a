package api

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"querychat/internal/schema"
)

type Failure int

const (
	FailureNone Failure = iota
	FailureTransport
	FailureStatus
	FailureBackend
)

type ExecutionResult struct {
	Success       bool
	Rows          []schema.Record
	AffectedCount *int64
	ErrorDetail   string
	Failure       Failure
}

// FailureText is the assistant-visible text for a failed execution.
func (r ExecutionResult) FailureText() string {
	switch r.Failure {
	case FailureTransport:
		return "Error executing SQL: " + r.ErrorDetail
	case FailureStatus:
		return "Error: " + r.ErrorDetail
	case FailureBackend:
		return "Query execution failed: " + r.ErrorDetail
	default:
		return ""
	}
}

// Execute runs query against the backend and folds every outcome into the
// result. It never returns an error.
func (c *Client) Execute(ctx context.Context, query, sessionID string) ExecutionResult {
	resp, err := c.RunSQL(ctx, query, sessionID)
	if err != nil {
		res := classify(err)
		c.log.Info("sql execution failed", zap.String("detail", res.ErrorDetail), zap.Int("failure", int(res.Failure)))
		return res
	}
	if !resp.Result.Success {
		msg := resp.Result.Error
		if msg == "" {
			msg = "unknown error"
		}
		return ExecutionResult{Failure: FailureBackend, ErrorDetail: msg}
	}
	return ExecutionResult{
		Success:       true,
		Rows:          resp.Result.Data,
		AffectedCount: resp.Result.AffectedRows,
	}
}

func classify(err error) ExecutionResult {
	var se *StatusError
	if errors.As(err, &se) {
		return ExecutionResult{Failure: FailureStatus, ErrorDetail: fmt.Sprintf("%d - %s", se.Code, se.Text)}
	}
	return ExecutionResult{Failure: FailureTransport, ErrorDetail: detail(err)}
}
