package dto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cuongbtq/certledger/internal/domain"
	"github.com/cuongbtq/certledger/internal/status"
)

// Arg is a chaincode argument. Clients may send strings or numbers; numbers
// are passed to the chaincode as their JSON text.
type Arg string

// UnmarshalJSON accepts a JSON string or number
func (a *Arg) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("empty argument")
	}

	switch {
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Arg(s)
		return nil
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*a = Arg(n.String())
		return nil
	default:
		return fmt.Errorf("argument must be a string or a number, got %s", data)
	}
}

// Strings converts args to the chaincode argument list
func Strings(args []Arg) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = string(arg)
	}
	return out
}

type CreateJobRequest struct {
	Identity string `json:"identity" binding:"required"`
	Function string `json:"function" binding:"required"`
	Args     []Arg  `json:"args"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type EvaluateRequest struct {
	Identity string `json:"identity" binding:"required"`
	Function string `json:"function" binding:"required"`
	Args     []Arg  `json:"args"`
}

// Payload encodings. A JSON result is embedded as-is, UTF-8 text as a JSON
// string and any other bytes as a base64 JSON string.
const (
	EncodingJSON   = "json"
	EncodingText   = "text"
	EncodingBase64 = "base64"
)

type EvaluateResponse struct {
	Result         json.RawMessage `json:"result"`
	ResultEncoding string          `json:"result_encoding"`
}

type ListJobsRequest struct {
	Identity string `form:"identity"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type ErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JobDTO struct {
	JobID      string          `json:"job_id"`
	Identity   string          `json:"identity,omitempty"`
	Function   string          `json:"function,omitempty"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	TxID       string          `json:"tx_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Encoding   string          `json:"payload_encoding,omitempty"`
	Error      *ErrorDTO       `json:"error,omitempty"`
	EnqueuedAt string          `json:"enqueued_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// FromProjection renders a job status projection
func FromProjection(p *status.Projection) JobDTO {
	job := JobDTO{
		JobID:      p.JobID,
		Status:     p.State.String(),
		Attempts:   p.Attempts,
		TxID:       p.TxID,
		EnqueuedAt: p.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:  p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.State == domain.JobStatusCompleted {
		job.Payload, job.Encoding = RawPayload(p.Payload)
	}
	if p.Error != nil {
		job.Error = &ErrorDTO{Code: p.Error.Code, Message: p.Error.Message}
	}
	return job
}

// FromJob renders a stored job through its status projection
func FromJob(j *domain.SubmissionJob) JobDTO {
	job := FromProjection(status.Project(j))
	job.Identity = j.Identity
	job.Function = j.Function
	return job
}

// RawPayload renders a chaincode result for a JSON response and reports the
// encoding it used
func RawPayload(payload []byte) (json.RawMessage, string) {
	switch {
	case len(payload) == 0:
		return json.RawMessage(`""`), EncodingText
	case json.Valid(payload):
		return json.RawMessage(payload), EncodingJSON
	case utf8.Valid(payload):
		quoted, _ := json.Marshal(string(payload))
		return quoted, EncodingText
	default:
		quoted, _ := json.Marshal(base64.StdEncoding.EncodeToString(payload))
		return quoted, EncodingBase64
	}
}
