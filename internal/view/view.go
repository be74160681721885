// Package view builds the render-ready models for the history and chat
// surfaces. All functions are pure: repository state in, serializable view
// structs out.
package view

import (
	"fmt"
	"strings"
	"time"

	"github.com/codebuildervaibhav/speaker-separator/internal/types"
)

// Conversations viewed within this window get the "recent" badge.
const recentWindow = 5 * time.Minute

// HistoryCard is one entry in the conversation history list.
type HistoryCard struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ProcessedAt string `json:"processed_at"`
	Duration    string `json:"duration"`
	Turns       int    `json:"turns"`
	Speakers    int    `json:"speakers"`
	LastViewed  string `json:"last_viewed"`
	Recent      bool   `json:"recent"`
}

// ChatMessage is one bubble in the conversation transcript.
type ChatMessage struct {
	Number   int     `json:"number"`
	Speaker  string  `json:"speaker"`
	Text     string  `json:"text"`
	Start    float64 `json:"start"` // seconds
	End      float64 `json:"end"`   // seconds
	Side     string  `json:"side"`  // "right" for speaker A, "left" otherwise
	AudioURL string  `json:"audio_url"`
	MimeType string  `json:"mime_type"`
}

// ChatView is the full transcript page for one conversation.
type ChatView struct {
	ID          string        `json:"id"`
	Filename    string        `json:"filename"`
	Format      string        `json:"format"`
	Duration    string        `json:"duration"`
	Speakers    int           `json:"speakers"`
	ProcessedAt string        `json:"processed_at"`
	Messages    []ChatMessage `json:"messages"`
}

// BuildHistory renders history cards, preserving repository order (newest
// processed first).
func BuildHistory(conversations []types.Conversation, now time.Time) []HistoryCard {
	cards := make([]HistoryCard, 0, len(conversations))
	for _, c := range conversations {
		cards = append(cards, HistoryCard{
			ID:          c.ID,
			Filename:    c.Filename,
			ProcessedAt: c.ProcessedAt.Format("2006-01-02"),
			Duration:    FormatDuration(c.Duration),
			Turns:       c.Turns,
			Speakers:    c.Speakers,
			LastViewed:  TimeAgo(c.LastViewed, now),
			Recent:      !c.LastViewed.IsZero() && now.Sub(c.LastViewed) < recentWindow,
		})
	}
	return cards
}

// BuildChat renders the transcript view for one conversation.
func BuildChat(conv *types.Conversation, turns []types.Turn) ChatView {
	messages := make([]ChatMessage, 0, len(turns))
	for _, t := range turns {
		side := "left"
		if strings.EqualFold(t.Speaker, "a") {
			side = "right"
		}
		messages = append(messages, ChatMessage{
			Number:   t.Number,
			Speaker:  strings.ToUpper(t.Speaker),
			Text:     t.Text,
			Start:    float64(t.StartMs) / 1000,
			End:      float64(t.EndMs) / 1000,
			Side:     side,
			AudioURL: fmt.Sprintf("/conversations/%s/turns/%d/audio", conv.ID, t.Number),
			MimeType: types.MimeType(conv.Format),
		})
	}

	return ChatView{
		ID:          conv.ID,
		Filename:    conv.Filename,
		Format:      conv.Format,
		Duration:    FormatDuration(conv.Duration),
		Speakers:    conv.Speakers,
		ProcessedAt: conv.ProcessedAt.Format("2006-01-02"),
		Messages:    messages,
	}
}

// FormatDuration renders seconds as M:SS.
func FormatDuration(seconds float64) string {
	mins := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%d:%02d", mins, secs)
}

// TimeAgo renders a human-readable age for a timestamp.
func TimeAgo(t, now time.Time) string {
	if t.IsZero() {
		return "Never"
	}

	diff := now.Sub(t)
	switch {
	case diff >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	case diff >= time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff >= time.Minute:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	default:
		return "Just now"
	}
}
