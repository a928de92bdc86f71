package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix.
// Callers that resume existing work supply their own id instead.
func NewJobID() string {
	return "job_" + uuid.New().String()
}
