// Package cleanup reclaims storage left behind by interrupted processing: a
// crash between writing blobs and committing rows leaves a conversation
// directory no row references, which is safe to remove once it has aged past
// the grace window.
package cleanup

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/codebuildervaibhav/speaker-separator/internal/storage"
)

// Scheduler sweeps orphan blob directories and stale temp files.
type Scheduler struct {
	db              *storage.DB
	blobs           *storage.BlobStore
	tempDir         string
	intervalMinutes int
	maxAgeHours     int
	stopChan        chan struct{}
}

// NewScheduler creates a new cleanup scheduler.
func NewScheduler(db *storage.DB, blobs *storage.BlobStore, tempDir string, intervalMinutes, maxAgeHours int) *Scheduler {
	return &Scheduler{
		db:              db,
		blobs:           blobs,
		tempDir:         tempDir,
		intervalMinutes: intervalMinutes,
		maxAgeHours:     maxAgeHours,
		stopChan:        make(chan struct{}),
	}
}

// Start runs an initial sweep and then sweeps on the configured interval.
func (s *Scheduler) Start() {
	log.Println("Running initial storage sweep...")
	s.sweep()

	ticker := time.NewTicker(time.Duration(s.intervalMinutes) * time.Minute)

	go func() {
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopChan:
				ticker.Stop()
				return
			}
		}
	}()

	log.Printf("Cleanup scheduler started (interval: %dm, grace age: %dh)",
		s.intervalMinutes, s.maxAgeHours)
}

// Stop stops the cleanup scheduler.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	log.Println("Cleanup scheduler stopped")
}

func (s *Scheduler) sweep() {
	s.sweepOrphanDirs()
	s.sweepTempFiles()
}

// sweepOrphanDirs removes conversation directories that no database row
// references, once they are older than the grace age.
func (s *Scheduler) sweepOrphanDirs() {
	ids, err := s.db.ConversationIDs()
	if err != nil {
		log.Printf("Orphan sweep: failed to load conversation ids: %v", err)
		return
	}

	dirs, err := s.blobs.ListConversationDirs()
	if err != nil {
		log.Printf("Orphan sweep: failed to list blob directories: %v", err)
		return
	}

	maxAge := time.Duration(s.maxAgeHours) * time.Hour
	now := time.Now()

	for _, dir := range dirs {
		if ids[dir] {
			continue
		}

		info, err := s.blobs.DirModTime(dir)
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue // Might belong to an in-flight pipeline run
		}

		if err := s.blobs.DeleteConversationTree(dir); err != nil {
			log.Printf("Orphan sweep: failed to delete %s: %v", dir, err)
			continue
		}
		log.Printf("Orphan sweep: removed unreferenced directory %s (age: %s)",
			dir, now.Sub(info.ModTime()).Round(time.Hour))
	}
}

// sweepTempFiles removes files older than the grace age from the temp
// directory.
func (s *Scheduler) sweepTempFiles() {
	now := time.Now()
	maxAge := time.Duration(s.maxAgeHours) * time.Hour

	var deletedCount int
	var deletedSize int64

	err := filepath.Walk(s.tempDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip files we can't access
		}
		if info.IsDir() {
			return nil
		}

		age := now.Sub(info.ModTime())
		if age > maxAge {
			size := info.Size()
			if err := os.Remove(path); err != nil {
				log.Printf("Failed to delete old temp file %s: %v", path, err)
			} else {
				deletedCount++
				deletedSize += size
			}
		}

		return nil
	})

	if err != nil {
		log.Printf("Error during temp cleanup: %v", err)
	}

	if deletedCount > 0 {
		log.Printf("Temp cleanup complete: %d files deleted, %.2fMB freed",
			deletedCount, float64(deletedSize)/(1024*1024))
	}
}

// EnsureTempDirExists creates the temp directory if it doesn't exist
func EnsureTempDirExists(tempDir string) error {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return err
	}
	log.Printf("Temp directory ready: %s", tempDir)
	return nil
}
