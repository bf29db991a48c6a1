package out

import "context"

// BlobStore removes stored attachment objects. Deletion is best-effort in
// the reject flow: failures are logged and the cleanup continues.
type BlobStore interface {
	Remove(ctx context.Context, paths []string) error
}
