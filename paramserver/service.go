// Package paramserver implements the passive parameter-holder role: an
// accept-and-serve process with no training loop of its own. Workers and the
// coordinator read and write named parameter blobs; the holder never
// initiates anything.
package paramserver

import (
	"context"
	"time"

	pkgerrors "github.com/vortexml/traind/pkg/errors"
	"github.com/vortexml/traind/params"
	"github.com/vortexml/traind/pkg/storage"
)

const (
	defOffset = 0
	defLimit  = 100
)

// Service is the parameter-holder surface exposed over HTTP.
type Service interface {
	GetParameter(ctx context.Context, key string) (params.Parameter, error)
	SetParameter(ctx context.Context, p params.Parameter) (params.Parameter, error)
	ListParameters(ctx context.Context, offset, limit uint64) (params.ParameterPage, error)
	DeleteParameter(ctx context.Context, key string) error
}

type service struct {
	db storage.Storage
}

func NewService(db storage.Storage) Service {
	return &service{db: db}
}

func (svc *service) GetParameter(ctx context.Context, key string) (params.Parameter, error) {
	data, err := svc.db.Get(ctx, key)
	if err != nil {
		return params.Parameter{}, err
	}
	p, ok := data.(params.Parameter)
	if !ok {
		return params.Parameter{}, pkgerrors.ErrInvalidData
	}

	return p, nil
}

// SetParameter upserts: concurrent writers race and last write wins, which
// is the run's accepted consistency relaxation.
func (svc *service) SetParameter(ctx context.Context, p params.Parameter) (params.Parameter, error) {
	p.UpdatedAt = time.Now()

	if err := svc.db.Upsert(ctx, p.Key, p); err != nil {
		return params.Parameter{}, err
	}

	return p, nil
}

func (svc *service) ListParameters(ctx context.Context, offset, limit uint64) (params.ParameterPage, error) {
	data, total, err := svc.db.List(ctx, offset, limit)
	if err != nil {
		return params.ParameterPage{}, err
	}

	parameters := make([]params.Parameter, len(data))
	for i := range data {
		p, ok := data[i].(params.Parameter)
		if !ok {
			return params.ParameterPage{}, pkgerrors.ErrInvalidData
		}
		parameters[i] = p
	}

	return params.ParameterPage{
		Offset:     offset,
		Limit:      limit,
		Total:      total,
		Parameters: parameters,
	}, nil
}

func (svc *service) DeleteParameter(ctx context.Context, key string) error {
	return svc.db.Delete(ctx, key)
}
