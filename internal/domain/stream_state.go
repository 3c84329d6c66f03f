package domain

import "errors"

// StreamState is the lifecycle state of a stream session.
type StreamState string

const (
	StateInitializing StreamState = "initializing" // Source not yet confirmed.
	StateReady        StreamState = "ready"        // Metadata known, first byte obtainable.
	StateDownloading  StreamState = "downloading"  // Torrent-backed, progress below 100%.
	StateConverted    StreamState = "converted"    // Normalized artifact exists and is preferred.
	StateClosed       StreamState = "closed"       // Removed from the registry.
)

var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the adjacency list of allowed state transitions.
// Ready and Downloading flip back and forth with engine progress.
var validTransitions = map[StreamState][]StreamState{
	StateInitializing: {StateReady, StateConverted, StateClosed},
	StateReady:        {StateDownloading, StateConverted, StateClosed},
	StateDownloading:  {StateReady, StateConverted, StateClosed},
	StateConverted:    {StateClosed},
	StateClosed:       {},
}

// CanTransition reports whether a transition from one state to another is valid.
func CanTransition(from, to StreamState) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Servable reports whether reads may be attempted in this state.
func (s StreamState) Servable() bool {
	switch s {
	case StateReady, StateDownloading, StateConverted:
		return true
	default:
		return false
	}
}
