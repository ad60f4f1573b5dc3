package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore keeps objects on the local filesystem under a root directory
// and serves them through the /files/ route. Paths are validated against
// traversal since they embed caller-derived segments.
type LocalStore struct {
	root          string
	publicBaseURL string
}

func NewLocalStore(root, publicBaseURL string) *LocalStore {
	return &LocalStore{
		root:          root,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (s *LocalStore) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("storage: create directory failed: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return fmt.Errorf("storage: write failed: %w", err)
	}
	return nil
}

func (s *LocalStore) PublicURL(path string) string {
	return s.publicBaseURL + "/files/" + path
}

func (s *LocalStore) Remove(ctx context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("storage: remove failed: %w", err)
	}
	return nil
}

// PathFromURL maps a public URL issued by PublicURL back to its storage
// path. Returns false for URLs this store never issued.
func (s *LocalStore) PathFromURL(url string) (string, bool) {
	marker := "/files/"
	idx := strings.Index(url, marker)
	if idx == -1 {
		return "", false
	}
	path := url[idx+len(marker):]
	if path == "" {
		return "", false
	}
	return path, true
}

// Root returns the directory objects are stored under, for the file server.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) resolve(path string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("storage: invalid path %q", path)
	}
	return full, nil
}
