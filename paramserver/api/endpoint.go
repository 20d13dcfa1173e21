package api

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"
	"github.com/vortexml/traind/paramserver"
	pkgerrors "github.com/vortexml/traind/pkg/errors"
)

func getParameterEndpoint(svc paramserver.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return parameterResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return parameterResponse{}, err
		}

		p, err := svc.GetParameter(ctx, req.key)
		if err != nil {
			return parameterResponse{}, err
		}

		return parameterResponse{Parameter: p}, nil
	}
}

func setParameterEndpoint(svc paramserver.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(parameterReq)
		if !ok {
			return parameterResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return parameterResponse{}, errors.Join(pkgerrors.ErrInvalidData, err)
		}

		p, err := svc.SetParameter(ctx, req.Parameter)
		if err != nil {
			return parameterResponse{}, err
		}

		return parameterResponse{Parameter: p, updated: true}, nil
	}
}

func listParametersEndpoint(svc paramserver.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(listEntityReq)
		if !ok {
			return listParameterResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return listParameterResponse{}, err
		}

		page, err := svc.ListParameters(ctx, req.offset, req.limit)
		if err != nil {
			return listParameterResponse{}, err
		}

		return listParameterResponse{ParameterPage: page}, nil
	}
}

func deleteParameterEndpoint(svc paramserver.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(entityReq)
		if !ok {
			return deleteResponse{}, pkgerrors.ErrInvalidData
		}
		if err := req.validate(); err != nil {
			return deleteResponse{}, err
		}

		if err := svc.DeleteParameter(ctx, req.key); err != nil {
			return deleteResponse{}, err
		}

		return deleteResponse{}, nil
	}
}
