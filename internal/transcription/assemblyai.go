package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/codebuildervaibhav/speaker-separator/internal/types"
)

// Transcriber submits audio to a diarizing speech-to-text service and returns
// speaker-labelled utterances ordered by start time.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, speakersExpected int) ([]types.Utterance, error)
}

const defaultBaseURL = "https://api.assemblyai.com/v2"

// AssemblyAI calls the AssemblyAI REST API: upload the audio, create a
// transcript with speaker labels, then poll until a terminal status.
type AssemblyAI struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
}

// NewAssemblyAI creates a new AssemblyAI transcriber.
func NewAssemblyAI(apiKey string) *AssemblyAI {
	return &AssemblyAI{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		client:       &http.Client{Timeout: 5 * time.Minute},
		pollInterval: 3 * time.Second,
	}
}

// NewAssemblyAIWithBaseURL creates a transcriber against a custom endpoint.
func NewAssemblyAIWithBaseURL(apiKey, baseURL string) *AssemblyAI {
	t := NewAssemblyAI(apiKey)
	t.baseURL = baseURL
	return t
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL         string `json:"audio_url"`
	SpeakerLabels    bool   `json:"speaker_labels"`
	SpeakersExpected int    `json:"speakers_expected,omitempty"`
}

type transcriptResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Utterances []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
	} `json:"utterances"`
}

// Transcribe runs the full upload/create/poll cycle. The call blocks until
// the service reports a terminal status or the context expires. A service-side
// processing failure is returned as *types.CollaboratorError and is not
// retried.
func (a *AssemblyAI) Transcribe(ctx context.Context, audioPath string, speakersExpected int) ([]types.Utterance, error) {
	uploadURL, err := a.upload(ctx, audioPath)
	if err != nil {
		return nil, err
	}

	transcriptID, err := a.createTranscript(ctx, uploadURL, speakersExpected)
	if err != nil {
		return nil, err
	}

	log.Printf("Transcript %s submitted, polling for completion...", transcriptID)
	return a.pollTranscript(ctx, transcriptID)
}

func (a *AssemblyAI) upload(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/upload", f)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("audio upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("audio upload returned %d: %s", resp.StatusCode, string(body))
	}

	var ur uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return ur.UploadURL, nil
}

func (a *AssemblyAI) createTranscript(ctx context.Context, audioURL string, speakersExpected int) (string, error) {
	payload, err := json.Marshal(transcriptRequest{
		AudioURL:         audioURL,
		SpeakerLabels:    true,
		SpeakersExpected: speakersExpected,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/transcript", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build transcript request: %w", err)
	}
	req.Header.Set("Authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcript creation failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("transcript creation returned %d: %s", resp.StatusCode, string(body))
	}

	var tr transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("failed to decode transcript response: %w", err)
	}
	return tr.ID, nil
}

func (a *AssemblyAI) pollTranscript(ctx context.Context, id string) ([]types.Utterance, error) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		tr, err := a.getTranscript(ctx, id)
		if err != nil {
			return nil, err
		}

		switch tr.Status {
		case "completed":
			utterances := make([]types.Utterance, len(tr.Utterances))
			for i, u := range tr.Utterances {
				utterances[i] = types.Utterance{
					Speaker: u.Speaker,
					Text:    u.Text,
					StartMs: u.Start,
					EndMs:   u.End,
				}
			}
			return utterances, nil
		case "error":
			return nil, &types.CollaboratorError{Message: tr.Error}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("transcription cancelled: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (a *AssemblyAI) getTranscript(ctx context.Context, id string) (*transcriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/transcript/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}
	req.Header.Set("Authorization", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcript status check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("transcript status returned %d: %s", resp.StatusCode, string(body))
	}

	var tr transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("failed to decode transcript status: %w", err)
	}
	return &tr, nil
}
