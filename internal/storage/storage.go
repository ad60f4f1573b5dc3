package storage

import "context"

// ObjectStore is the object-storage contract the messaging service depends
// on: upload bytes under a path, resolve the public URL for a path, remove
// an object, and map a previously issued public URL back to its path.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	PublicURL(path string) string
	Remove(ctx context.Context, path string) error
	PathFromURL(url string) (string, bool)
}
