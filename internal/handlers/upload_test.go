package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/speaker-separator/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-separator/internal/storage"
	"github.com/codebuildervaibhav/speaker-separator/internal/types"
	"github.com/codebuildervaibhav/speaker-separator/internal/view"
)

type stubTranscriber struct {
	utterances []types.Utterance
	err        error
	calls      int
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audioPath string, speakersExpected int) ([]types.Utterance, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.utterances, nil
}

type stubCodec struct {
	totalMs int64
}

func (s *stubCodec) DurationMs(path string) (int64, error) {
	return s.totalMs, nil
}

func (s *stubCodec) Slice(path string, startMs, endMs int64, format string) ([]byte, error) {
	return []byte(fmt.Sprintf("segment %d-%d", startMs, endMs)), nil
}

func (s *stubCodec) ConvertToWAV(path string) (string, error) {
	return path, nil
}

func newUploadApp(t *testing.T, transcriber *stubTranscriber) *fiber.App {
	t.Helper()

	db, err := storage.NewDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := storage.NewBlobStore(filepath.Join(t.TempDir(), "audio_storage"))
	if err != nil {
		t.Fatalf("blob store: %v", err)
	}

	p := pipeline.New(transcriber, &stubCodec{totalMs: 10000}, db, blobs, nil,
		pipeline.NewProgressHub(), t.TempDir(), time.Minute)

	app := fiber.New()
	app.Post("/upload", NewUploadHandler(p, db, 100).Handle)
	return app
}

func uploadRequest(t *testing.T, filename string, data []byte, speakers string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if speakers != "" {
		if err := w.WriteField("speakers", speakers); err != nil {
			t.Fatalf("write speakers field: %v", err)
		}
	}
	w.Close()

	req := httptest.NewRequest("POST", "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestUploadProcessesNewAudio(t *testing.T) {
	transcriber := &stubTranscriber{
		utterances: []types.Utterance{
			{Speaker: "A", Text: "hello there", StartMs: 0, EndMs: 4000},
			{Speaker: "B", Text: "hi", StartMs: 4000, EndMs: 9500},
		},
	}
	app := newUploadApp(t, transcriber)

	resp, err := app.Test(uploadRequest(t, "meeting.wav", []byte("fresh audio"), "2"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var body struct {
		AlreadyProcessed bool          `json:"already_processed"`
		Conversation     view.ChatView `json:"conversation"`
	}
	decodeBody(t, resp, &body)

	if body.AlreadyProcessed {
		t.Error("fresh upload flagged as already processed")
	}
	if len(body.Conversation.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(body.Conversation.Messages))
	}
	if body.Conversation.Duration != "0:09" {
		t.Errorf("duration = %q, want 0:09", body.Conversation.Duration)
	}
}

func TestUploadDuplicateShortCircuits(t *testing.T) {
	transcriber := &stubTranscriber{
		utterances: []types.Utterance{
			{Speaker: "A", Text: "hello", StartMs: 0, EndMs: 4000},
		},
	}
	app := newUploadApp(t, transcriber)

	data := []byte("same audio twice")

	resp, err := app.Test(uploadRequest(t, "meeting.wav", data, ""))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if resp.StatusCode != 201 {
		t.Fatalf("first status = %d, want 201", resp.StatusCode)
	}

	// Same bytes under a different name still hit the fingerprint.
	resp, err = app.Test(uploadRequest(t, "renamed.wav", data, ""))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if resp.StatusCode != 409 {
		t.Fatalf("second status = %d, want 409", resp.StatusCode)
	}

	var body struct {
		Code         string           `json:"code"`
		Conversation view.HistoryCard `json:"conversation"`
	}
	decodeBody(t, resp, &body)

	if body.Code != "ERR_DUPLICATE" {
		t.Errorf("code = %q, want ERR_DUPLICATE", body.Code)
	}
	if body.Conversation.Filename != "meeting.wav" {
		t.Errorf("existing conversation filename = %q, want meeting.wav", body.Conversation.Filename)
	}
	if transcriber.calls != 1 {
		t.Errorf("transcriber called %d times, want 1 (duplicate must not reprocess)", transcriber.calls)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	transcriber := &stubTranscriber{}
	app := newUploadApp(t, transcriber)

	resp, err := app.Test(uploadRequest(t, "notes.txt", []byte("not audio"), ""))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != "ERR_INVALID_FORMAT" {
		t.Errorf("code = %q, want ERR_INVALID_FORMAT", body.Code)
	}
	if transcriber.calls != 0 {
		t.Errorf("transcriber called %d times for rejected upload, want 0", transcriber.calls)
	}
}

func TestUploadRejectsBadSpeakerCount(t *testing.T) {
	app := newUploadApp(t, &stubTranscriber{})

	for _, speakers := range []string{"1", "11", "abc"} {
		resp, err := app.Test(uploadRequest(t, "meeting.wav", []byte("audio"), speakers))
		if err != nil {
			t.Fatalf("request (speakers=%s): %v", speakers, err)
		}
		if resp.StatusCode != 400 {
			t.Errorf("speakers=%s: status = %d, want 400", speakers, resp.StatusCode)
			continue
		}
		var body struct {
			Code string `json:"code"`
		}
		decodeBody(t, resp, &body)
		if body.Code != "ERR_INVALID_SPEAKERS" {
			t.Errorf("speakers=%s: code = %q, want ERR_INVALID_SPEAKERS", speakers, body.Code)
		}
	}
}

func TestUploadMissingFile(t *testing.T) {
	app := newUploadApp(t, &stubTranscriber{})

	req := httptest.NewRequest("POST", "/upload", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 400 {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != "ERR_NO_FILE" {
		t.Errorf("code = %q, want ERR_NO_FILE", body.Code)
	}
}

func TestUploadTranscriptionFailure(t *testing.T) {
	transcriber := &stubTranscriber{err: &types.CollaboratorError{Message: "audio too noisy"}}
	app := newUploadApp(t, transcriber)

	resp, err := app.Test(uploadRequest(t, "meeting.wav", []byte("audio"), ""))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != 502 {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}

	var body struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &body)
	if body.Code != "ERR_TRANSCRIPTION" {
		t.Errorf("code = %q, want ERR_TRANSCRIPTION", body.Code)
	}
}
