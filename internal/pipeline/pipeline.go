package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/speaker-separator/internal/storage"
	"github.com/codebuildervaibhav/speaker-separator/internal/transcription"
	"github.com/codebuildervaibhav/speaker-separator/internal/types"
)

// Exporter backs up a finished conversation to an external destination.
// Export failures are logged, never fatal.
type Exporter interface {
	Export(conv *types.Conversation, turns []types.Turn) (string, error)
}

// Request describes one audio upload to process.
type Request struct {
	Data             []byte
	Filename         string
	Format           string
	Fingerprint      string
	SpeakersExpected int
}

// Result is the outcome of a pipeline run.
type Result struct {
	Conversation *types.Conversation
	Turns        []types.Turn

	// AlreadyProcessed is set when a conversation with the same fingerprint
	// was created concurrently; Conversation then refers to the existing row.
	AlreadyProcessed bool
}

// Pipeline turns one audio blob into ordered, speaker-attributed turns and
// persists everything: blobs first, then all rows in one transaction.
type Pipeline struct {
	transcriber transcription.Transcriber
	codec       transcription.Codec
	db          *storage.DB
	blobs       *storage.BlobStore
	exporter    Exporter
	progress    *ProgressHub
	tempDir     string
	timeout     time.Duration
	exports     sync.WaitGroup
}

// New creates a pipeline. exporter may be nil.
func New(
	transcriber transcription.Transcriber,
	codec transcription.Codec,
	db *storage.DB,
	blobs *storage.BlobStore,
	exporter Exporter,
	progress *ProgressHub,
	tempDir string,
	timeout time.Duration,
) *Pipeline {
	return &Pipeline{
		transcriber: transcriber,
		codec:       codec,
		db:          db,
		blobs:       blobs,
		exporter:    exporter,
		progress:    progress,
		tempDir:     tempDir,
		timeout:     timeout,
	}
}

// Process runs the full segmentation pipeline. Any failure before persistence
// aborts with nothing written; a fingerprint collision at commit resolves to
// the existing conversation instead of erroring.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Stage the upload as a temp file for the codec and the collaborator.
	tempPath := filepath.Join(p.tempDir, fmt.Sprintf("upload_%s.%s", uuid.New().String(), req.Format))
	if err := os.WriteFile(tempPath, req.Data, 0644); err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	defer p.cleanupTempFile(tempPath)

	// OGG is converted to WAV before decoding or slicing proceeds.
	processPath := tempPath
	if req.Format == "ogg" {
		converted, err := p.codec.ConvertToWAV(tempPath)
		if err != nil {
			return nil, fmt.Errorf("ogg conversion failed: %w", err)
		}
		defer p.cleanupTempFile(converted)
		processPath = converted
	}

	totalMs, err := p.codec.DurationMs(processPath)
	if err != nil {
		return nil, fmt.Errorf("failed to probe audio duration: %w", err)
	}

	p.progress.Publish(Event{Stage: StageTranscribing, Percent: 10, Message: "Transcribing audio..."})

	utterances, err := p.transcriber.Transcribe(ctx, processPath, req.SpeakersExpected)
	if err != nil {
		p.progress.Publish(Event{Stage: StageFailed, Percent: 0, Message: err.Error()})
		return nil, err
	}

	p.progress.Publish(Event{Stage: StageSlicing, Percent: 50, Message: "Extracting speaker turns..."})

	convID := uuid.New().String()
	now := time.Now()

	turns, segments, err := p.buildTurns(convID, processPath, utterances, totalMs, req.Format)
	if err != nil {
		p.progress.Publish(Event{Stage: StageFailed, Percent: 0, Message: err.Error()})
		return nil, err
	}

	var duration float64
	if len(turns) > 0 {
		duration = float64(turns[len(turns)-1].EndMs) / 1000
	}

	conv := &types.Conversation{
		ID:          convID,
		Fingerprint: req.Fingerprint,
		Filename:    req.Filename,
		Format:      req.Format,
		Duration:    duration,
		Speakers:    req.SpeakersExpected,
		Turns:       len(turns),
		ProcessedAt: now,
		LastViewed:  now,
		StoragePath: convID,
	}

	p.progress.Publish(Event{Stage: StageSaving, Percent: 80, Message: "Saving conversation..."})

	// Blobs first, rows second. A crash between the two leaves only an
	// orphan directory, which the sweeper reclaims; a turn row can never
	// reference a missing blob.
	if err := p.blobs.WriteOriginal(convID, req.Data, req.Format); err != nil {
		return nil, err
	}
	for i := range turns {
		relPath, err := p.blobs.WriteSegment(convID, turns[i].Speaker, turns[i].Number, req.Format, segments[i])
		if err != nil {
			p.abandonBlobs(convID)
			return nil, err
		}
		turns[i].AudioPath = relPath
	}

	if err := p.db.SaveConversation(conv, turns); err != nil {
		p.abandonBlobs(convID)
		if errors.Is(err, types.ErrDuplicateFingerprint) {
			// Lost a check/create race; the existing row wins.
			existing, lookupErr := p.db.FindByFingerprint(req.Fingerprint)
			if lookupErr != nil {
				return nil, lookupErr
			}
			existingTurns, lookupErr := p.db.ListTurns(existing.ID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &Result{Conversation: existing, Turns: existingTurns, AlreadyProcessed: true}, nil
		}
		return nil, err
	}

	p.progress.Publish(Event{Stage: StageComplete, Percent: 100, Message: "Complete"})
	log.Printf("Conversation %s saved (%d turns, %.1fs)", convID, len(turns), duration)

	if p.exporter != nil {
		p.exports.Add(1)
		go func() {
			defer p.exports.Done()
			if url, err := p.exporter.Export(conv, turns); err != nil {
				log.Printf("WARNING: transcript export failed for %s: %v", convID, err)
			} else if url != "" {
				log.Printf("Transcript for %s exported: %s", convID, url)
			}
		}()
	}

	return &Result{Conversation: conv, Turns: turns}, nil
}

// buildTurns clamps utterances against the audio bounds, drops degenerate
// ones, renumbers the survivors contiguously from 1 and slices one segment
// blob per turn.
func (p *Pipeline) buildTurns(convID, audioPath string, utterances []types.Utterance, totalMs int64, format string) ([]types.Turn, [][]byte, error) {
	var turns []types.Turn
	var segments [][]byte

	for _, u := range utterances {
		startMs := u.StartMs
		if startMs < 0 {
			startMs = 0
		}
		endMs := u.EndMs
		if endMs > totalMs {
			endMs = totalMs
		}
		if endMs <= startMs {
			continue // Zero-length or out-of-range artifact
		}

		data, err := p.codec.Slice(audioPath, startMs, endMs, format)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to slice turn at %dms: %w", startMs, err)
		}

		turns = append(turns, types.Turn{
			ID:             uuid.New().String(),
			ConversationID: convID,
			Number:         len(turns) + 1,
			Speaker:        u.Speaker,
			Text:           u.Text,
			StartMs:        startMs,
			EndMs:          endMs,
		})
		segments = append(segments, data)
	}

	return turns, segments, nil
}

// Delete removes a conversation: rows first (one transaction), then the blob
// tree.
func (p *Pipeline) Delete(id string) error {
	if err := p.db.DeleteConversation(id); err != nil {
		return err
	}
	return p.blobs.DeleteConversationTree(id)
}

// Wait blocks until all in-flight background exports have finished. Called
// during shutdown so app.Shutdown does not cut an export short.
func (p *Pipeline) Wait() {
	p.exports.Wait()
}

// abandonBlobs removes a conversation's blob tree after an aborted run. A
// leftover tree is only a leak (the sweeper would reclaim it), so failure is
// logged, not returned.
func (p *Pipeline) abandonBlobs(convID string) {
	if err := p.blobs.DeleteConversationTree(convID); err != nil {
		log.Printf("Failed to remove blobs for aborted conversation %s: %v", convID, err)
	}
}

func (p *Pipeline) cleanupTempFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to cleanup temp file %s: %v", path, err)
	}
}
