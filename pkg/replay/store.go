package replay

import (
	"context"

	"github.com/ethpandaops/kpisim/pkg/storage"
)

// Acquirer is implemented by *storage.Pool.
type Acquirer interface {
	Acquire(ctx context.Context) (*storage.Session, error)
}

type poolStore struct {
	pool Acquirer
}

// NewPoolStore adapts a storage pool to a Store.
func NewPoolStore(pool Acquirer) Store {
	return &poolStore{pool: pool}
}

func (p *poolStore) Acquire(ctx context.Context) (Session, error) {
	session, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	return session, nil
}
