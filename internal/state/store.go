package state

import "context"

// Store is a small durable key/value store for process state that must
// survive restarts, such as the last selection and the order id nonce.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
