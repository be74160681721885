package transcription

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Codec decodes, slices and re-encodes audio. Implementations shell out to
// ffmpeg; tests substitute a fake.
type Codec interface {
	// DurationMs returns the total length of the audio file in milliseconds.
	DurationMs(path string) (int64, error)

	// Slice extracts [startMs, endMs) from the audio file and re-encodes it
	// into a self-contained blob in the given container format.
	Slice(path string, startMs, endMs int64, format string) ([]byte, error)

	// ConvertToWAV converts a legacy container to a PCM WAV file and returns
	// the new path. The caller owns both files.
	ConvertToWAV(path string) (string, error)
}

// FFmpegCodec implements Codec with ffmpeg/ffprobe subprocesses.
type FFmpegCodec struct {
	tempDir string
}

// NewFFmpegCodec creates a codec writing its intermediate files to tempDir.
func NewFFmpegCodec(tempDir string) *FFmpegCodec {
	return &FFmpegCodec{tempDir: tempDir}
}

// DurationMs probes the container duration with ffprobe.
func (c *FFmpegCodec) DurationMs(path string) (int64, error) {
	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %v\nOutput: %s", err, string(output))
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return int64(seconds * 1000), nil
}

// Slice cuts [startMs, endMs) out of the input and re-encodes it into the
// target format.
func (c *FFmpegCodec) Slice(path string, startMs, endMs int64, format string) ([]byte, error) {
	outputPath := filepath.Join(c.tempDir, fmt.Sprintf("segment_%s.%s", uuid.New().String(), format))
	defer os.Remove(outputPath)

	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-ss", formatMs(startMs),
		"-to", formatMs(endMs),
		"-y", // Overwrite output
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg slice failed: %v\nOutput: %s", err, string(output))
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sliced segment: %w", err)
	}
	return data, nil
}

// ConvertToWAV converts the input to 16-bit PCM WAV.
func (c *FFmpegCodec) ConvertToWAV(path string) (string, error) {
	outputPath := filepath.Join(c.tempDir, fmt.Sprintf("converted_%s.wav", uuid.New().String()))

	cmd := exec.Command("ffmpeg",
		"-i", path,
		"-c:a", "pcm_s16le",
		"-y",
		outputPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("ffmpeg conversion failed: %v\nOutput: %s", err, string(output))
	}
	return outputPath, nil
}

// formatMs renders a millisecond offset as seconds for ffmpeg arguments.
func formatMs(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// ValidateAudioFormat checks if the file format is supported
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	supportedFormats := []string{".wav", ".mp3", ".m4a", ".flac", ".ogg"}

	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}
