// Package storage keeps uploaded images on disk for the lifetime of a request.
package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

// AllowedExtensions are the lower-case image extensions accepted for upload.
var AllowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

var ErrInvalidExtension = errors.New("invalid file extension")

// StoredUpload describes an upload written to disk. OriginalName is the
// client-supplied filename and is never used to build Path.
type StoredUpload struct {
	ID           string
	OriginalName string
	Path         string
}

type Store struct {
	dir  string
	keep bool
}

// NewStore creates dir if needed. When keep is false, Discard removes files.
func NewStore(dir string, keep bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("create upload directory %s: %w", dir, err)
	}
	return &Store{dir: dir, keep: keep}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

// Keeps reports whether uploads outlive their request.
func (s *Store) Keeps() bool {
	return s.keep
}

// Extension returns the lower-case extension of filename without the dot,
// or "" when there is none.
func Extension(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" || ext == "." {
		return ""
	}
	return strings.ToLower(ext[1:])
}

func ValidExtension(filename string) bool {
	return AllowedExtensions[Extension(filename)]
}

// Save copies src to a new file named after a random id. A partially
// written file is removed before returning an error.
func (s *Store) Save(filename string, src io.Reader) (*StoredUpload, error) {
	ext := Extension(filename)
	if !AllowedExtensions[ext] {
		return nil, xerrors.Errorf("%q: %w", filename, ErrInvalidExtension)
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+"."+ext)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, xerrors.Errorf("create upload file: %w", err)
	}

	_, err = io.Copy(f, src)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, xerrors.Errorf("write upload file: %w", err)
	}

	return &StoredUpload{
		ID:           id,
		OriginalName: filename,
		Path:         path,
	}, nil
}

// Discard removes the upload unless the store retains files.
func (s *Store) Discard(u *StoredUpload) error {
	if u == nil || s.keep {
		return nil
	}
	return s.Remove(u)
}

// Remove deletes the upload regardless of retention.
func (s *Store) Remove(u *StoredUpload) error {
	if u == nil {
		return nil
	}
	if err := os.Remove(u.Path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("remove upload %s: %w", u.ID, err)
	}
	return nil
}
