// Package blob stores binary artifacts (thumbnails, uploaded media) on
// local disk, keyed by tenant and owner id. The interface keeps the
// pipeline independent of the storage backend.
package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Store is the binary artifact store. Paths are "<tenant>/<owner>/<name>"
// scoped; an owner's directory is moved wholesale when artifact ownership
// transfers between contents.
type Store interface {
	// Put writes one artifact and returns its serving path.
	Put(tenantID, ownerID, name string, r io.Reader) (string, error)

	// Open reads one artifact.
	Open(tenantID, ownerID, name string) (io.ReadCloser, error)

	// Move transfers every artifact of fromOwner to toOwner, replacing
	// whatever toOwner had. Used when a re-ingested source replaces an
	// existing content.
	Move(tenantID, fromOwner, toOwner string) error

	// Delete removes all artifacts of an owner.
	Delete(tenantID, ownerID string) error

	// Size returns the total bytes stored for an owner.
	Size(tenantID, ownerID string) (int64, error)
}

// LocalStore is a filesystem-backed Store rooted at a data directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) ownerDir(tenantID, ownerID string) (string, error) {
	if err := validateSegment(tenantID); err != nil {
		return "", err
	}
	if err := validateSegment(ownerID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, tenantID, ownerID), nil
}

func validateSegment(segment string) error {
	if segment == "" || strings.ContainsAny(segment, `/\`) || segment == "." || segment == ".." {
		return fmt.Errorf("invalid path segment %q", segment)
	}
	return nil
}

func (s *LocalStore) Put(tenantID, ownerID, name string, r io.Reader) (string, error) {
	dir, err := s.ownerDir(tenantID, ownerID)
	if err != nil {
		return "", err
	}
	if err := validateSegment(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create owner dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return filepath.Join(tenantID, ownerID, name), nil
}

func (s *LocalStore) Open(tenantID, ownerID, name string) (io.ReadCloser, error) {
	dir, err := s.ownerDir(tenantID, ownerID)
	if err != nil {
		return nil, err
	}
	if err := validateSegment(name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("artifact %s not found", name)
		}
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

func (s *LocalStore) Move(tenantID, fromOwner, toOwner string) error {
	fromDir, err := s.ownerDir(tenantID, fromOwner)
	if err != nil {
		return err
	}
	toDir, err := s.ownerDir(tenantID, toOwner)
	if err != nil {
		return err
	}

	if _, err := os.Stat(fromDir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(toDir); err != nil {
		return fmt.Errorf("failed to clear destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(toDir), 0o755); err != nil {
		return fmt.Errorf("failed to create tenant dir: %w", err)
	}
	if err := os.Rename(fromDir, toDir); err != nil {
		return fmt.Errorf("failed to move artifacts: %w", err)
	}
	return nil
}

func (s *LocalStore) Delete(tenantID, ownerID string) error {
	dir, err := s.ownerDir(tenantID, ownerID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete artifacts: %w", err)
	}
	return nil
}

func (s *LocalStore) Size(tenantID, ownerID string) (int64, error) {
	dir, err := s.ownerDir(tenantID, ownerID)
	if err != nil {
		return 0, err
	}
	var total int64
	err = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to measure artifacts: %w", err)
	}
	return total, nil
}
