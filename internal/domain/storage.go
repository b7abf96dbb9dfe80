package domain

import "context"

// ObjectStore is a container-scoped blob store. Put is a plain
// create/overwrite of a single object.
type ObjectStore interface {
	Put(ctx context.Context, container, key, localPath string) error
	List(ctx context.Context, container, prefix string) ([]string, error)
	Get(ctx context.Context, container, key, localPath string) error
}
