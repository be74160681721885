package handlers

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/speaker-separator/internal/pipeline"
	"github.com/codebuildervaibhav/speaker-separator/internal/storage"
	"github.com/codebuildervaibhav/speaker-separator/internal/types"
	"github.com/codebuildervaibhav/speaker-separator/internal/view"
)

// ConversationHandler serves the history, transcript, download and deletion
// surface.
type ConversationHandler struct {
	db       *storage.DB
	blobs    *storage.BlobStore
	pipeline *pipeline.Pipeline
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(db *storage.DB, blobs *storage.BlobStore, p *pipeline.Pipeline) *ConversationHandler {
	return &ConversationHandler{db: db, blobs: blobs, pipeline: p}
}

// List returns the history, newest processed first.
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	conversations, err := h.db.ListConversations()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}
	return c.JSON(fiber.Map{
		"conversations": view.BuildHistory(conversations, time.Now()),
	})
}

// Get returns one conversation's chat view and touches its last_viewed
// timestamp.
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")

	conv, err := h.db.GetConversation(id)
	if errors.Is(err, types.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Conversation not found", "code": "ERR_NOT_FOUND"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	turns, err := h.db.ListTurns(id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	if err := h.db.TouchLastViewed(id, time.Now()); err != nil && !errors.Is(err, types.ErrNotFound) {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	return c.JSON(view.BuildChat(conv, turns))
}

// Delete removes a conversation, its turns and its blob tree.
func (h *ConversationHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")

	err := h.pipeline.Delete(id)
	if errors.Is(err, types.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Conversation not found", "code": "ERR_NOT_FOUND"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	return c.JSON(fiber.Map{"deleted": id})
}

// Original serves the originally uploaded audio file.
func (h *ConversationHandler) Original(c *fiber.Ctx) error {
	id := c.Params("id")

	conv, err := h.db.GetConversation(id)
	if errors.Is(err, types.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Conversation not found", "code": "ERR_NOT_FOUND"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	data, err := h.blobs.Read(conv.StoragePath + "/original." + conv.Format)
	if errors.Is(err, types.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Audio file not found", "code": "ERR_NOT_FOUND"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	c.Set("Content-Type", types.MimeType(conv.Format))
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", conv.Filename))
	return c.Send(data)
}

// TurnAudio serves one turn's audio segment.
func (h *ConversationHandler) TurnAudio(c *fiber.Ctx) error {
	id := c.Params("id")
	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid turn number", "code": "ERR_INVALID_TURN"})
	}

	conv, err := h.db.GetConversation(id)
	if errors.Is(err, types.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Conversation not found", "code": "ERR_NOT_FOUND"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	turns, err := h.db.ListTurns(id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	for _, t := range turns {
		if t.Number != number {
			continue
		}
		data, err := h.blobs.Read(t.AudioPath)
		if errors.Is(err, types.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "Segment not found", "code": "ERR_NOT_FOUND"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
		}
		c.Set("Content-Type", types.MimeType(conv.Format))
		c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q",
			storage.SegmentName(t.Speaker, t.Number, conv.Format)))
		return c.Send(data)
	}

	return c.Status(404).JSON(fiber.Map{"error": "Turn not found", "code": "ERR_NOT_FOUND"})
}

// SegmentsZip bundles every segment of a conversation into one zip download.
func (h *ConversationHandler) SegmentsZip(c *fiber.Ctx) error {
	id := c.Params("id")

	conv, err := h.db.GetConversation(id)
	if errors.Is(err, types.ErrNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Conversation not found", "code": "ERR_NOT_FOUND"})
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	turns, err := h.db.ListTurns(id)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, t := range turns {
		data, err := h.blobs.Read(t.AudioPath)
		if err != nil {
			zw.Close()
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
		}
		w, err := zw.Create(storage.SegmentName(t.Speaker, t.Number, conv.Format))
		if err != nil {
			zw.Close()
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_ZIP"})
		}
		if _, err := w.Write(data); err != nil {
			zw.Close()
			return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_ZIP"})
		}
	}
	if err := zw.Close(); err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_ZIP"})
	}

	c.Set("Content-Type", "application/zip")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", conv.Filename+"_segments.zip"))
	return c.Send(buf.Bytes())
}

// Stats reports the conversation count and total blob storage in use.
func (h *ConversationHandler) Stats(c *fiber.Ctx) error {
	count, err := h.db.CountConversations()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	size, err := h.blobs.TotalSize()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error(), "code": "ERR_STORAGE"})
	}

	return c.JSON(fiber.Map{
		"conversations": count,
		"storage_bytes": size,
		"storage_mb":    fmt.Sprintf("%.1f", float64(size)/(1024*1024)),
	})
}
