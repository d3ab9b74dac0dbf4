// Package store keeps uploaded media and job outputs on local disk as
// <root>/<fileID>/<filename>.
package store

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-transcoder/internal/media"
)

var (
	ErrNotFound    = errors.New("media not found")
	ErrInvalidID   = errors.New("invalid file id")
	ErrInvalidName = errors.New("invalid file name")
)

type Store struct {
	root string
}

// New creates root if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

// ValidateID accepts canonical UUIDs only.
func ValidateID(fileID string) error {
	id, err := uuid.Parse(fileID)
	if err != nil || id.String() != strings.ToLower(fileID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, fileID)
	}
	return nil
}

// ValidateName accepts a bare file name with no directory part.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..",
		strings.ContainsAny(name, `/\`),
		strings.ContainsRune(name, 0),
		strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// CleanName reduces a client supplied upload name to its base name.
func CleanName(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

// Dir returns the directory holding fileID's media.
func (s *Store) Dir(fileID string) (string, error) {
	if err := ValidateID(fileID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, fileID), nil
}

// Path returns the location of filename under fileID. The file need not exist.
func (s *Store) Path(fileID, filename string) (string, error) {
	dir, err := s.Dir(fileID)
	if err != nil {
		return "", err
	}
	if err := ValidateName(filename); err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// Upload describes a stored upload.
type Upload struct {
	FileID   string `json:"fileID"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Save writes r under a new file id.
func (s *Store) Save(filename string, r io.Reader) (Upload, error) {
	name, err := CleanName(filename)
	if err != nil {
		return Upload{}, err
	}

	var dir string
	var id string
	for {
		id = uuid.NewString()
		dir = filepath.Join(s.root, id)
		if err := os.Mkdir(dir, 0o755); err == nil {
			break
		} else if !errors.Is(err, os.ErrExist) {
			return Upload{}, fmt.Errorf("create media dir: %w", err)
		}
	}

	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		_ = os.RemoveAll(dir)
		return Upload{}, fmt.Errorf("create media file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		return Upload{}, fmt.Errorf("write media file: %w", err)
	}
	return Upload{FileID: id, Filename: name, Size: n}, nil
}

// Open opens a stored file and reports its content type.
func (s *Store) Open(fileID, filename string) (*os.File, string, error) {
	path, err := s.Path(fileID, filename)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open media: %w", err)
	}
	ct := media.ContentType(filename)
	if ct == "" {
		if ct, err = detectMime(f); err != nil {
			f.Close()
			return nil, "", err
		}
	}
	return f, ct, nil
}

// Delete removes everything stored under fileID.
func (s *Store) Delete(fileID string) error {
	dir, err := s.Dir(fileID)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	return nil
}

// SweepResult counts what a sweep removed.
type SweepResult struct {
	FilesRemoved int
	DirsRemoved  int
	Errors       []error
}

// Sweep removes files last modified before cutoff, then any media directory
// left empty. Failures on single entries are collected and do not stop the
// sweep.
func (s *Store) Sweep(cutoff time.Time) (SweepResult, error) {
	var res SweepResult
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return res, fmt.Errorf("read media root: %w", err)
	}
	for _, dir := range entries {
		if !dir.IsDir() {
			continue
		}
		dirPath := filepath.Join(s.root, dir.Name())
		// Read before removing files, which bumps the directory mtime. A
		// directory Save has just created is newer than cutoff and stays.
		dirInfo, err := dir.Info()
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		files, err := os.ReadDir(dirPath)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		remaining := len(files)
		for _, f := range files {
			if !f.Type().IsRegular() {
				continue
			}
			info, err := f.Info()
			if err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.Remove(filepath.Join(dirPath, f.Name())); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.FilesRemoved++
			remaining--
		}
		if remaining == 0 && dirInfo.ModTime().Before(cutoff) {
			if err := os.Remove(dirPath); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.DirsRemoved++
		}
	}
	return res, nil
}

func detectMime(f *os.File) (string, error) {
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read for mime detect: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind after mime detect: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}
