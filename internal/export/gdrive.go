// Package export backs finished conversations up to Google Drive.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/codebuildervaibhav/speaker-separator/internal/types"
	"github.com/codebuildervaibhav/speaker-separator/internal/view"
)

// DriveExporter uploads a conversation's transcript text and metadata JSON to
// a dated folder tree on Google Drive.
type DriveExporter struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveExporter creates a Drive exporter from OAuth credentials.
func NewDriveExporter(credentialsFile, tokenFile, folderName string) (*DriveExporter, error) {
	ctx := context.Background()

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client, err := getClient(config, tokenFile)
	if err != nil {
		return nil, err
	}

	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	de := &DriveExporter{
		service:    srv,
		folderName: folderName,
	}

	if err := de.ensureFolder(); err != nil {
		return nil, err
	}

	return de, nil
}

// getClient builds an authorized HTTP client from a cached token file.
func getClient(config *oauth2.Config, tokenFile string) (*http.Client, error) {
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("no cached OAuth token at %s: %w", tokenFile, err)
	}
	return config.Client(context.Background(), tok), nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// ensureFolder finds or creates the root folder
func (de *DriveExporter) ensureFolder() error {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		de.folderName)

	r, err := de.service.Files.List().Q(query).Spaces("drive").Fields("files(id, name)").Do()
	if err != nil {
		return fmt.Errorf("unable to search for folder: %w", err)
	}

	if len(r.Files) > 0 {
		de.folderID = r.Files[0].Id
		return nil
	}

	folder := &drive.File{
		Name:     de.folderName,
		MimeType: "application/vnd.google-apps.folder",
	}

	file, err := de.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return fmt.Errorf("unable to create folder: %w", err)
	}

	de.folderID = file.Id
	return nil
}

// Export uploads the transcript and metadata for one conversation and returns
// a shareable link.
func (de *DriveExporter) Export(conv *types.Conversation, turns []types.Turn) (string, error) {
	now := time.Now()
	folderID, err := de.ensureDateFolder(now)
	if err != nil {
		return "", err
	}

	baseFilename := fmt.Sprintf("%s_%s", now.Format("20060102_150405"), conv.ID[:8])

	txtFile := &drive.File{
		Name:    baseFilename + ".txt",
		Parents: []string{folderID},
	}

	created, err := de.service.Files.Create(txtFile).Media(
		strings.NewReader(TranscriptText(conv, turns))).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}

	metadata := map[string]interface{}{
		"conversation_id":  conv.ID,
		"filename":         conv.Filename,
		"format":           conv.Format,
		"duration_seconds": conv.Duration,
		"speakers":         conv.Speakers,
		"turns":            conv.Turns,
		"processed_at":     conv.ProcessedAt,
		"fingerprint":      conv.Fingerprint,
	}

	metaJSON, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	metaFile := &drive.File{
		Name:    baseFilename + "_meta.json",
		Parents: []string{folderID},
	}

	_, err = de.service.Files.Create(metaFile).Media(strings.NewReader(string(metaJSON))).Do()
	if err != nil {
		return "", fmt.Errorf("failed to upload metadata: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", created.Id), nil
}

// TranscriptText renders a conversation as speaker-labelled plain text.
func TranscriptText(conv *types.Conversation, turns []types.Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, %d speakers)\n\n", conv.Filename, view.FormatDuration(conv.Duration), conv.Speakers)
	for _, t := range turns {
		fmt.Fprintf(&b, "[%s] %s: %s\n",
			view.FormatDuration(float64(t.StartMs)/1000), strings.ToUpper(t.Speaker), t.Text)
	}
	return b.String()
}

// ensureDateFolder creates nested year/month/day folders
func (de *DriveExporter) ensureDateFolder(t time.Time) (string, error) {
	yearID, err := de.findOrCreateFolder(fmt.Sprintf("%d", t.Year()), de.folderID)
	if err != nil {
		return "", err
	}

	monthID, err := de.findOrCreateFolder(fmt.Sprintf("%02d", t.Month()), yearID)
	if err != nil {
		return "", err
	}

	dayID, err := de.findOrCreateFolder(fmt.Sprintf("%02d", t.Day()), monthID)
	if err != nil {
		return "", err
	}

	return dayID, nil
}

// findOrCreateFolder finds or creates a folder with the given parent
func (de *DriveExporter) findOrCreateFolder(name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and '%s' in parents and mimeType='application/vnd.google-apps.folder' and trashed=false",
		name, parentID)

	r, err := de.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Do()
	if err != nil {
		return "", err
	}

	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{parentID},
	}

	file, err := de.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", err
	}

	return file.Id, nil
}
