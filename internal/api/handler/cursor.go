package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/certledger/internal/storage"
)

// DecodeJobCursor parses an opaque list cursor. An empty string means the first page.
func DecodeJobCursor(cursorStr string) (*storage.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var enqueuedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &enqueuedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid enqueuedAt in cursor: %w", err)
	}

	if _, err := uuid.Parse(decodedParts[1]); err != nil {
		return nil, fmt.Errorf("invalid job id in cursor: %w", err)
	}

	return &storage.JobCursor{
		EnqueuedAt: time.Unix(0, enqueuedAt).UTC(),
		JobID:      decodedParts[1],
	}, nil
}

// EncodeJobCursor builds the cursor pointing after cursor's job
func EncodeJobCursor(cursor *storage.JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.EnqueuedAt.UnixNano(), cursor.JobID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
