package rpc

import "errors"

var (
	errMissingIntent           = errors.New("rpc: intent is required")
	errMissingIntentOrWorkflow = errors.New("rpc: at least one of intent or workflow is required")
	errMissingWorkflowID       = errors.New("rpc: workflow_id is required")
	errWorkflowNotFound        = errors.New("rpc: workflow not found")
	errCodeTooLarge            = errors.New("rpc: code exceeds 100 KiB")
	errNoSandboxConfigured     = errors.New("rpc: no sandbox configured")
)
