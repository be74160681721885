package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/codebuildervaibhav/speaker-separator/internal/types"
)

// BlobStore lays out audio files on disk, one directory per conversation:
//
//	<root>/<conversation_id>/original.<format>
//	<root>/<conversation_id>/segments/<speaker>_<number>.<format>
type BlobStore struct {
	root string
}

// NewBlobStore creates a blob store rooted at the given directory, creating
// it if necessary.
func NewBlobStore(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// Root returns the storage root directory.
func (bs *BlobStore) Root() string {
	return bs.root
}

// WriteOriginal writes the uploaded audio as original.<format> under the
// conversation directory, creating it if absent. A second write for the same
// conversation replaces the file.
func (bs *BlobStore) WriteOriginal(convID string, data []byte, format string) error {
	dir := filepath.Join(bs.root, convID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create conversation directory: %w", err)
	}
	path := filepath.Join(dir, "original."+format)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write original audio: %w", err)
	}
	return nil
}

// SegmentName builds the deterministic segment filename for a turn.
func SegmentName(speaker string, number int, format string) string {
	return fmt.Sprintf("%s_%03d.%s", strings.ToLower(speaker), number, format)
}

// WriteSegment writes one turn's audio under segments/ and returns the path
// relative to the storage root, for recording on the turn row. The filename is
// derived from (speaker, number, format), so rewriting the same turn
// overwrites the same file.
func (bs *BlobStore) WriteSegment(convID, speaker string, number int, format string, data []byte) (string, error) {
	dir := filepath.Join(bs.root, convID, "segments")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create segments directory: %w", err)
	}

	name := SegmentName(speaker, number, format)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write segment: %w", err)
	}

	// Relative paths are stored with forward slashes regardless of platform.
	return convID + "/segments/" + name, nil
}

// Read returns the contents of a blob by its stored relative path, or
// types.ErrNotFound. Paths escaping the storage root are rejected.
func (bs *BlobStore) Read(relPath string) ([]byte, error) {
	full := filepath.Join(bs.root, filepath.FromSlash(relPath))
	if !strings.HasPrefix(full, filepath.Clean(bs.root)+string(os.PathSeparator)) {
		return nil, types.ErrNotFound
	}

	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// DeleteConversationTree removes the conversation's entire directory. A
// missing directory is a no-op, not an error.
func (bs *BlobStore) DeleteConversationTree(convID string) error {
	if err := os.RemoveAll(filepath.Join(bs.root, convID)); err != nil {
		return fmt.Errorf("failed to delete conversation tree: %w", err)
	}
	return nil
}

// ListConversationDirs returns the conversation directory names currently on
// disk. Used by the orphan sweeper.
func (bs *BlobStore) ListConversationDirs() ([]string, error) {
	entries, err := os.ReadDir(bs.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage root: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}

// DirModTime returns the modification time of a conversation directory.
func (bs *BlobStore) DirModTime(convID string) (os.FileInfo, error) {
	info, err := os.Stat(filepath.Join(bs.root, convID))
	if err != nil {
		return nil, err
	}
	return info, nil
}

// TotalSize walks the storage root and sums file sizes in bytes.
func (bs *BlobStore) TotalSize() (int64, error) {
	var total int64
	err := filepath.Walk(bs.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to walk storage root: %w", err)
	}
	return total, nil
}
