package api

import (
	pkgerrors "github.com/vortexml/traind/pkg/errors"
	"github.com/vortexml/traind/params"
)

type parameterReq struct {
	params.Parameter `json:",inline"`
}

func (r *parameterReq) validate() error {
	if r.Key == "" {
		return pkgerrors.ErrEmptyKey
	}
	if len(r.Blob) == 0 {
		return pkgerrors.ErrInvalidData
	}

	return nil
}

type entityReq struct {
	key string
}

func (r *entityReq) validate() error {
	if r.key == "" {
		return pkgerrors.ErrEmptyKey
	}

	return nil
}

type listEntityReq struct {
	offset, limit uint64
}

func (r *listEntityReq) validate() error {
	return nil
}
