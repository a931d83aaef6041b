package domain

import "errors"

// Error taxonomy shared across the pipeline. Callers classify failures with
// errors.Is; the concrete cause travels in the wrapped message.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrParse             = errors.New("parse failed")
	ErrEmptyContent      = errors.New("no text content extracted")
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrStore             = errors.New("store error")
	ErrPluginTimeout     = errors.New("plugin execution timed out")
	ErrPluginExecution   = errors.New("plugin execution failed")
	ErrInvalidSender     = errors.New("message sender must be exactly one user or character")
	ErrNotFound          = errors.New("not found")
)
