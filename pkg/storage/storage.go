package storage

import "context"

// Storage is the generic keyed store behind the parameter holder. Backends
// must tolerate many concurrent readers and writers without external
// locking; last write wins.
type Storage interface {
	Create(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, error)
	Update(ctx context.Context, key string, value any) error
	Upsert(ctx context.Context, key string, value any) error
	List(ctx context.Context, offset, limit uint64) ([]any, uint64, error)
	Delete(ctx context.Context, key string) error
}
