// Package content manages the content-addressed payload files of
// §3.6: large document payloads (JSON/NDJSON/CSV) are written before
// their task is enqueued, and deleted only once the task leaves
// Enqueued.
package content

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aman-cerp/scribe/internal/errkind"
)

// Store manages payload files under one directory, named by UUID the
// way the teacher names snapshot-part uploads.
type Store struct {
	dir string
}

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errkind.New(errkind.Transient, "content_dir_create_failed", "failed to create content directory", err)
	}
	return &Store{dir: dir}, nil
}

// Create allocates a new content file and streams r's bytes into it.
// The caller must enqueue the owning task before any other writer can
// observe partial content (§3.6: "a content file is created before its
// task is enqueued").
func (s *Store) Create(r io.Reader) (name string, err error) {
	name = uuid.NewString()
	path := s.Path(name)

	f, err := os.Create(path)
	if err != nil {
		return "", errkind.New(errkind.Transient, "content_file_create_failed", "failed to create content file", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errkind.New(errkind.Transient, "content_file_close_failed", "failed to close content file", cerr)
		}
	}()

	if _, werr := io.Copy(f, r); werr != nil {
		_ = os.Remove(path)
		return "", errkind.New(errkind.Transient, "content_file_write_failed", "failed to write content file", werr)
	}
	return name, nil
}

// Open opens an existing content file for streaming read.
func (s *Store) Open(name string) (*os.File, error) {
	f, err := os.Open(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errkind.New(errkind.NotFound, "content_file_not_found", fmt.Sprintf("content file %q not found", name), err)
		}
		return nil, errkind.New(errkind.Transient, "content_file_open_failed", "failed to open content file", err)
	}
	return f, nil
}

// Delete removes a content file. Safe to call once the owning task has
// left Enqueued; a missing file is not an error, since retried
// deletions (e.g. after a crash mid-cleanup) must be idempotent.
func (s *Store) Delete(name string) error {
	if err := os.Remove(s.Path(name)); err != nil && !os.IsNotExist(err) {
		return errkind.New(errkind.Transient, "content_file_delete_failed", "failed to delete content file", err)
	}
	return nil
}

// Path returns the filesystem path for a content file name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}
