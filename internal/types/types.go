package types

import (
	"errors"
	"time"
)

// Sentinel errors shared across the storage and pipeline layers.
var (
	// ErrNotFound indicates a lookup by id, fingerprint or path matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateFingerprint indicates a conversation with the same content
	// fingerprint already exists. Callers treat this as "already processed",
	// not as a failure.
	ErrDuplicateFingerprint = errors.New("duplicate fingerprint")
)

// Conversation is the persisted record of one fully processed audio upload.
// Every field except LastViewed is immutable after creation.
type Conversation struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	Filename    string    `json:"filename"`
	Format      string    `json:"format"`
	Duration    float64   `json:"duration"` // seconds, end of the last turn
	Speakers    int       `json:"speakers"` // expected speaker count at creation
	Turns       int       `json:"turns"`    // number of turn rows, set at creation
	ProcessedAt time.Time `json:"processed_at"`
	LastViewed  time.Time `json:"last_viewed"`
	StoragePath string    `json:"storage_path"` // blob directory key, equals ID
}

// Turn is one numbered, speaker-attributed utterance with its segment blob.
type Turn struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Number         int    `json:"number"` // 1-based, contiguous, chronological
	Speaker        string `json:"speaker"`
	Text           string `json:"text"`
	StartMs        int64  `json:"start_ms"`
	EndMs          int64  `json:"end_ms"`
	AudioPath      string `json:"audio_path"` // relative to the blob store root
}

// Utterance is a single diarized segment as reported by the transcription
// collaborator, before clamping and numbering.
type Utterance struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// CollaboratorError is a terminal processing failure reported by the
// transcription service. Fatal for the current operation, never retried.
type CollaboratorError struct {
	Message string
}

func (e *CollaboratorError) Error() string {
	return "transcription service error: " + e.Message
}

// MimeType maps an audio container format to its MIME type.
func MimeType(format string) string {
	switch format {
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "ogg":
		return "audio/ogg"
	case "m4a":
		return "audio/mp4"
	case "flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}
