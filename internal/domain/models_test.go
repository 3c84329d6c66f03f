package domain

import (
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// StreamState transitions
// ---------------------------------------------------------------------------

func TestStreamStateConstants(t *testing.T) {
	tests := []struct {
		state StreamState
		want  string
	}{
		{StateInitializing, "initializing"},
		{StateReady, "ready"},
		{StateDownloading, "downloading"},
		{StateConverted, "converted"},
		{StateClosed, "closed"},
	}
	for _, tc := range tests {
		if string(tc.state) != tc.want {
			t.Fatalf("state = %q, want %q", tc.state, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from StreamState
		to   StreamState
		want bool
	}{
		{"Initializing->Ready", StateInitializing, StateReady, true},
		{"Initializing->Converted", StateInitializing, StateConverted, true},
		{"Initializing->Closed", StateInitializing, StateClosed, true},
		{"Initializing->Downloading", StateInitializing, StateDownloading, false},
		{"Ready->Downloading", StateReady, StateDownloading, true},
		{"Downloading->Ready", StateDownloading, StateReady, true},
		{"Ready->Converted", StateReady, StateConverted, true},
		{"Downloading->Converted", StateDownloading, StateConverted, true},
		{"Converted->Ready", StateConverted, StateReady, false},
		{"Converted->Downloading", StateConverted, StateDownloading, false},
		{"Converted->Closed", StateConverted, StateClosed, true},
		{"Closed->Ready", StateClosed, StateReady, false},
		{"Ready->Initializing", StateReady, StateInitializing, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestEveryStateCanClose(t *testing.T) {
	for state := range validTransitions {
		if state == StateClosed {
			continue
		}
		if !CanTransition(state, StateClosed) {
			t.Fatalf("%s cannot transition to closed", state)
		}
	}
}

func TestServable(t *testing.T) {
	tests := []struct {
		state StreamState
		want  bool
	}{
		{StateInitializing, false},
		{StateReady, true},
		{StateDownloading, true},
		{StateConverted, true},
		{StateClosed, false},
	}
	for _, tc := range tests {
		if got := tc.state.Servable(); got != tc.want {
			t.Fatalf("%s.Servable() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Format policy
// ---------------------------------------------------------------------------

func TestNeedsConversion(t *testing.T) {
	tests := []struct {
		ext  string
		want bool
	}{
		{".mkv", true},
		{".avi", true},
		{".mov", true},
		{".wmv", true},
		{".flv", true},
		{".m4v", true},
		{"MKV", true},
		{".MKV", true},
		{".mp4", false},
		{".webm", false},
		{".ogg", false},
		{".srt", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.ext, func(t *testing.T) {
			if got := NeedsConversion(tc.ext); got != tc.want {
				t.Fatalf("NeedsConversion(%q) = %v, want %v", tc.ext, got, tc.want)
			}
		})
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		ext  string
		want string
	}{
		{".mp4", "video/mp4"},
		{".webm", "video/webm"},
		{"WEBM", "video/webm"},
		{".ogg", "video/ogg"},
		{".mkv", "video/mp4"},
		{".avi", "video/mp4"},
		{"", "video/mp4"},
	}
	for _, tc := range tests {
		t.Run(tc.ext, func(t *testing.T) {
			if got := ContentType(tc.ext); got != tc.want {
				t.Fatalf("ContentType(%q) = %q, want %q", tc.ext, got, tc.want)
			}
		})
	}
}

func TestFormatSetsDisjoint(t *testing.T) {
	for ext := range browserNativeFormats {
		if NeedsConversion(ext) {
			t.Fatalf("%s is both native and needs conversion", ext)
		}
		if !IsVideo(ext) {
			t.Fatalf("IsVideo(%s) = false", ext)
		}
	}
	if IsVideo(".txt") {
		t.Fatal("IsVideo(.txt) = true")
	}
}

// ---------------------------------------------------------------------------
// JSON contract
// ---------------------------------------------------------------------------

func TestSessionInfoJSONTags(t *testing.T) {
	expectJSONTag(t, SessionInfo{}, "ID", "streamId")
	expectJSONTag(t, SessionInfo{}, "State", "state")
	expectJSONTag(t, SessionInfo{}, "TotalSize", "totalSize")
	expectJSONTag(t, SessionInfo{}, "NeedsConvert", "needsConversion")
}

func TestMediaItemJSONTags(t *testing.T) {
	expectJSONTag(t, MediaItem{}, "Name", "name")
	expectJSONTag(t, MediaItem{}, "Path", "path")
	expectJSONTag(t, MediaItem{}, "NeedsConversion", "needsConversion")
	expectJSONTag(t, MediaItem{}, "Converted", "converted")
}

func TestSourceMetadataHidesOffset(t *testing.T) {
	expectJSONTag(t, SourceMetadata{}, "FileOffset", "-")
	expectJSONTag(t, SourceMetadata{}, "PieceSize", "pieceSize")
}

func expectJSONTag(t *testing.T, value interface{}, field, want string) {
	t.Helper()
	typ := reflect.TypeOf(value)
	f, ok := typ.FieldByName(field)
	if !ok {
		t.Fatalf("%s.%s not found", typ.Name(), field)
	}
	if got := f.Tag.Get("json"); got != want {
		t.Fatalf("%s.%s json tag = %q, want %q", typ.Name(), field, got, want)
	}
}
