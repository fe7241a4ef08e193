package core

import "github.com/google/uuid"

// NewID returns a fresh random UUID string, used for Capability.ID,
// Workflow.ID, Checkpoint.ID and correlation ids throughout the pipeline.
func NewID() string {
	return uuid.NewString()
}
