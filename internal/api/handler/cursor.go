package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/mpetrenko/notegen/internal/api/storage"
)

func DecodeJobCursor(cursorStr string) (*storage.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var submittedAt int64
	if _, err := fmt.Sscanf(decodedParts[0], "%d", &submittedAt); err != nil {
		return nil, fmt.Errorf("invalid submittedAt in cursor: %w", err)
	}

	return &storage.JobCursor{
		SubmittedAt: time.Unix(0, submittedAt),
		JobID:       decodedParts[1],
	}, nil
}

func EncodeJobCursor(cursor *storage.JobCursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.SubmittedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs))
}
