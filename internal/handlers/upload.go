package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/speaker-separator/internal/fingerprint"
	"github.com/codebuildervaibhav/speaker-separator/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-separator/internal/storage"
	"github.com/codebuildervaibhav/speaker-separator/internal/transcription"
	"github.com/codebuildervaibhav/speaker-separator/internal/types"
	"github.com/codebuildervaibhav/speaker-separator/internal/view"
)

// UploadHandler handles audio uploads and the duplicate-detection flow.
type UploadHandler struct {
	pipeline  *pipeline.Pipeline
	db        *storage.DB
	maxSizeMB int
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(p *pipeline.Pipeline, db *storage.DB, maxSizeMB int) *UploadHandler {
	return &UploadHandler{
		pipeline:  p,
		db:        db,
		maxSizeMB: maxSizeMB,
	}
}

// Handle processes the upload request. The fingerprint of the uploaded bytes
// is checked before any processing: a match short-circuits with the existing
// conversation instead of spending another collaborator call.
func (h *UploadHandler) Handle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "No file uploaded",
			"code":  "ERR_NO_FILE",
		})
	}

	maxSize := int64(h.maxSizeMB) * 1024 * 1024
	if file.Size > maxSize {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large (max %dMB)", h.maxSizeMB),
			"code":  "ERR_FILE_TOO_LARGE",
		})
	}

	if !transcription.ValidateAudioFormat(file.Filename) {
		return c.Status(400).JSON(fiber.Map{
			"error": "Unsupported audio format",
			"code":  "ERR_INVALID_FORMAT",
		})
	}

	speakers := 2
	if v := c.FormValue("speakers"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 || n > 10 {
			return c.Status(400).JSON(fiber.Map{
				"error": "speakers must be between 2 and 10",
				"code":  "ERR_INVALID_SPEAKERS",
			})
		}
		speakers = n
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read upload",
			"code":  "ERR_READ_FAILED",
		})
	}
	data, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{
			"error": "Failed to read upload",
			"code":  "ERR_READ_FAILED",
		})
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(file.Filename)), ".")
	fp := fingerprint.Compute(data)

	existing, err := h.db.FindByFingerprint(fp)
	if err == nil {
		// Already processed: report the saved conversation, never reprocess
		// live content.
		return c.Status(409).JSON(fiber.Map{
			"code":         "ERR_DUPLICATE",
			"error":        "This audio has already been processed",
			"conversation": view.BuildHistory([]types.Conversation{*existing}, time.Now())[0],
		})
	}
	if !errors.Is(err, types.ErrNotFound) {
		return c.Status(500).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "ERR_STORAGE",
		})
	}

	result, err := h.pipeline.Process(c.Context(), pipeline.Request{
		Data:             data,
		Filename:         file.Filename,
		Format:           format,
		Fingerprint:      fp,
		SpeakersExpected: speakers,
	})
	if err != nil {
		log.Printf("Processing failed for %s: %v", file.Filename, err)
		status := 500
		code := "ERR_PROCESSING"
		if _, ok := err.(*types.CollaboratorError); ok {
			status = 502
			code = "ERR_TRANSCRIPTION"
		}
		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"code":  code,
		})
	}

	status := 201
	if result.AlreadyProcessed {
		status = 200
	}
	return c.Status(status).JSON(fiber.Map{
		"already_processed": result.AlreadyProcessed,
		"conversation":      view.BuildChat(result.Conversation, result.Turns),
	})
}
