package wal

import (
	"os"
	"sync"
)

// fileSyncer fsyncs a path's current file to disk independent of
// whatever fd last wrote it. lumberjack.Logger rotates by renaming the
// file out from under its own handle and never exposes that handle
// anyway, so Append's durability guarantee is enforced by opening a
// second, syncer-owned handle on cfg.Path and reopening it whenever the
// path's inode no longer matches the one last synced — fsync(2) flushes
// an inode's dirty pages regardless of which descriptor wrote them, so
// a read-only handle is sufficient.
type fileSyncer struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func newFileSyncer(path string) *fileSyncer {
	return &fileSyncer{path: path}
}

// Sync flushes path's current on-disk contents, reopening its handle
// first if lumberjack rotated the file since the last call.
func (s *fileSyncer) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reopenIfRotated(); err != nil {
		return err
	}
	if s.f == nil {
		return nil
	}
	return s.f.Sync()
}

func (s *fileSyncer) reopenIfRotated() error {
	info, err := os.Stat(s.path)
	if err != nil {
		// Nothing written yet, or the file briefly doesn't exist mid-rotation.
		return nil
	}

	if s.f != nil {
		if cur, err := s.f.Stat(); err == nil && os.SameFile(info, cur) {
			return nil
		}
		s.f.Close()
		s.f = nil
	}

	f, err := os.OpenFile(s.path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *fileSyncer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
