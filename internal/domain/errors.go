package domain

import "errors"

var ErrAlreadyExists = errors.New("already exists")

// Streaming error taxonomy. Callers wrap these with %w and the HTTP layer maps
// them to status codes with errors.Is.
var (
	ErrBadIdentifier       = errors.New("bad identifier")
	ErrUnknownSession      = errors.New("unknown session")
	ErrInvalidRange        = errors.New("invalid range")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrPieceUnavailable    = errors.New("piece unavailable")
	ErrSourceRead          = errors.New("source read failure")
	ErrTranscodeSpawn      = errors.New("transcode spawn failure")
	ErrTranscodeRuntime    = errors.New("transcode runtime failure")
	ErrConversion          = errors.New("conversion failure")
	ErrSessionClosed       = errors.New("session closed")
)
