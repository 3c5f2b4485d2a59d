package chunkstore

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/ctxstore/internal/apperr"
	"github.com/starford/ctxstore/internal/parser"
	"github.com/starford/ctxstore/internal/taxonomy"
	"github.com/starford/ctxstore/internal/tree"
)

// Watch follows the context root with fsnotify and ingests chunk files written by other
// processes until ctx is cancelled. Removals are not reflected in the index; it only grows
// until the next restart.
func (s *Store) Watch(ctx context.Context) error {
	if !s.ready() {
		return apperr.ErrNotInitialized
	}
	root := s.Root()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	s.logger.Info("watcher: started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						s.logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					s.ingestDir(ev.Name)
					continue
				}
			}
			if _, ingestErr := s.Ingest(ev.Name); ingestErr != nil {
				s.logger.Debug("watcher: skipped", slog.String("path", ev.Name), slog.String("error", ingestErr.Error()))
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// Ingest parses the chunk file at abs and adds it to the index. It reports whether the
// chunk was new; files outside a taxonomy leaf are rejected.
func (s *Store) Ingest(abs string) (bool, error) {
	if !s.ready() {
		return false, apperr.ErrNotInitialized
	}
	if !tree.IsChunkFile(filepath.Base(abs)) {
		return false, fmt.Errorf("chunkstore: %s is not a chunk file", abs)
	}
	rel, err := filepath.Rel(s.Root(), abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false, fmt.Errorf("chunkstore: %s is outside the context root", abs)
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 3 || !taxonomy.Contains(parts[0], parts[1]) {
		return false, fmt.Errorf("chunkstore: %s: %w", rel, apperr.ErrInvalidTaxonomy)
	}

	s.mu.RLock()
	fsys := s.fs
	s.mu.RUnlock()

	data, err := fsys.Read(filepath.ToSlash(rel))
	if err != nil {
		return false, err
	}
	c, err := parser.ParseChunk(data, parts[0], parts[1])
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	added := s.index.add(c)
	if seq, ok := sequence(c.ID); ok && seq > s.counter {
		s.counter = seq
	}
	st := s.index.stats()
	s.mu.Unlock()

	if !added {
		return false, nil
	}
	s.logger.Debug("watcher: indexed", slog.String("id", c.ID), slog.String("path", rel))
	if s.observer != nil {
		s.observer(*c)
	}
	s.reportSize(context.Background(), st)
	return true, nil
}

func (s *Store) ingestDir(dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		_, _ = s.Ingest(p)
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(p)
		}
		return nil
	})
}
