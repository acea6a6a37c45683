package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aman-cerp/scribe/internal/content"
	"github.com/aman-cerp/scribe/internal/gitignore"
	"github.com/aman-cerp/scribe/internal/task"
)

// Submitter is the subset of *task.Scheduler an Ingestor drives. Each
// call maps one FileEvent batch onto the DocumentImport/DocumentDeletion
// tasks of §4.2.1/§4.2.3.
type Submitter interface {
	Submit(kind task.Kind, importMethod task.ImportMethod, indexUID string, contentFile string) (*task.Task, error)
	SubmitWithDetails(kind task.Kind, indexUID string, details map[string]any) (*task.Task, error)
}

// Ingestor turns watched file events into index mutations: created or
// modified files become one-document DocumentImport/Update tasks keyed
// by their path relative to the watch root, and deletions become
// DocumentDeletion tasks naming that same path as the external id.
//
// It is the concrete adapter IngestionConfig documents — the watcher
// package stays domain-agnostic (FileEvent, Operation) and this file is
// the only place that knows about tasks and content files.
type Ingestor struct {
	IndexUID string
	Content  *content.Store
	Tasks    Submitter
	Logger   *slog.Logger
}

// Run consumes w's batched events until ctx is cancelled or the
// watcher's event channel closes. Each batch is applied sequentially so
// that a rename's delete-then-create pair lands in submission order.
func (i *Ingestor) Run(ctx context.Context, w *HybridWatcher) {
	log := i.Logger
	if log == nil {
		log = slog.Default()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case events, ok := <-w.Events():
			if !ok {
				return
			}
			for _, e := range events {
				if err := i.apply(w.RootPath(), e); err != nil {
					log.Warn("ingest: failed to apply file event",
						slog.String("path", e.Path),
						slog.String("op", e.Operation.String()),
						slog.String("error", err.Error()))
				}
			}
		case err, ok := <-w.Errors():
			if !ok {
				continue
			}
			log.Warn("ingest: watcher error", slog.String("error", err.Error()))
		}
	}
}

func (i *Ingestor) apply(root string, e FileEvent) error {
	switch e.Operation {
	case OpCreate, OpModify:
		if e.IsDir {
			return nil
		}
		return i.importFile(root, e.Path)
	case OpDelete:
		if e.IsDir {
			return nil
		}
		_, err := i.Tasks.SubmitWithDetails(task.KindDocumentDeletion, i.IndexUID, map[string]any{
			"target_external_ids": []string{e.Path},
		})
		return err
	case OpRename:
		if e.OldPath != "" {
			if _, err := i.Tasks.SubmitWithDetails(task.KindDocumentDeletion, i.IndexUID, map[string]any{
				"target_external_ids": []string{e.OldPath},
			}); err != nil {
				return err
			}
		}
		if e.IsDir {
			return nil
		}
		return i.importFile(root, e.Path)
	case OpGitignoreChange, OpConfigChange:
		// Exclude-pattern reload already happened inside the watcher;
		// no document mutation is needed for these.
		return nil
	default:
		return nil
	}
}

// SeedExisting imports every file already present under root that
// ignorePatterns doesn't exclude, before the caller starts watching
// root for live changes. HybridWatcher's own startup walk only
// establishes a polling baseline (or registers fsnotify watches); it
// never emits events for files that existed before Start was called,
// so without this seed step a fresh watch would only pick up files
// created or modified after it started.
func (i *Ingestor) SeedExisting(root string, ignorePatterns []string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	m := gitignore.New()
	for _, p := range ignorePatterns {
		m.AddPattern(p)
	}
	m.AddPattern(".git/")
	m.AddPattern(".scribe/")

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		relPath, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || relPath == "." {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(relPath, ".git") || strings.HasPrefix(relPath, ".scribe") || m.Match(relPath, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if m.Match(relPath, false) {
			return nil
		}
		return i.importFile(absRoot, relPath)
	})
}

func (i *Ingestor) importFile(root, relPath string) error {
	data, err := os.ReadFile(filepath.Join(root, relPath))
	if err != nil {
		if os.IsNotExist(err) {
			// Raced with a fast delete; treat as a no-op rather than an error.
			return nil
		}
		return err
	}

	doc := map[string]any{
		"path":    relPath,
		"content": string(data),
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode([]map[string]any{doc}); err != nil {
		return err
	}

	name, err := i.Content.Create(&buf)
	if err != nil {
		return err
	}
	_, err = i.Tasks.Submit(task.KindDocumentImport, task.ImportUpdate, i.IndexUID, name)
	return err
}
