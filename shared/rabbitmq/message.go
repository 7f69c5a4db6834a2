package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotConnected is returned when the client has no open channel
	ErrNotConnected = errors.New("not connected to RabbitMQ")

	// ErrInvalidMessage is returned for a job-ready message that cannot be decoded
	ErrInvalidMessage = errors.New("invalid job ready message")
)

// JobReadyMessage tells workers that a job is waiting to be claimed
type JobReadyMessage struct {
	JobID string `json:"job_id"`
}

// EncodeJobReady builds the body of a job-ready message
func EncodeJobReady(jobID string) ([]byte, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("%w: job_id %q is not a UUID", ErrInvalidMessage, jobID)
	}
	return json.Marshal(JobReadyMessage{JobID: jobID})
}

// DecodeJobReady parses and validates a job-ready message body
func DecodeJobReady(body []byte) (*JobReadyMessage, error) {
	var msg JobReadyMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("%w: job_id %q is not a UUID", ErrInvalidMessage, msg.JobID)
	}
	return &msg, nil
}
