package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vortexml/traind/paramserver"
	"github.com/vortexml/traind/pkg/api"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// MakeHandler mounts the parameter-holder HTTP API.
func MakeHandler(svc paramserver.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(loggingErrorEncoder(logger)),
	}

	mux.Route("/parameters", func(r chi.Router) {
		r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
			listParametersEndpoint(svc),
			decodeListEntityReq,
			api.EncodeResponse,
			opts...,
		), "list-parameters").ServeHTTP)
		r.Route("/{paramKey}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getParameterEndpoint(svc),
				decodeEntityReq,
				api.EncodeResponse,
				opts...,
			), "get-parameter").ServeHTTP)
			r.Put("/", otelhttp.NewHandler(kithttp.NewServer(
				setParameterEndpoint(svc),
				decodeParameterReq,
				api.EncodeResponse,
				opts...,
			), "set-parameter").ServeHTTP)
			r.Delete("/", otelhttp.NewHandler(kithttp.NewServer(
				deleteParameterEndpoint(svc),
				decodeEntityReq,
				api.EncodeResponse,
				opts...,
			), "delete-parameter").ServeHTTP)
		})
	})

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", api.ContentType)
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok", "instance_id": instanceID}); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func decodeEntityReq(_ context.Context, r *http.Request) (any, error) {
	return entityReq{key: chi.URLParam(r, "paramKey")}, nil
}

func decodeParameterReq(_ context.Context, r *http.Request) (any, error) {
	var req parameterReq
	if err := json.NewDecoder(r.Body).Decode(&req.Parameter); err != nil {
		return nil, err
	}
	req.Key = chi.URLParam(r, "paramKey")

	return req, nil
}

func decodeListEntityReq(_ context.Context, r *http.Request) (any, error) {
	offset, err := api.ReadNumQuery(r, api.OffsetKey, api.DefOffset)
	if err != nil {
		return nil, err
	}

	limit, err := api.ReadNumQuery(r, api.LimitKey, api.DefLimit)
	if err != nil {
		return nil, err
	}
	if limit > api.MaxLimitSize {
		limit = api.MaxLimitSize
	}

	return listEntityReq{offset: offset, limit: limit}, nil
}

func loggingErrorEncoder(logger *slog.Logger) kithttp.ErrorEncoder {
	return func(ctx context.Context, err error, w http.ResponseWriter) {
		logger.Warn("Request failed", slog.Any("error", err))
		api.EncodeError(ctx, err, w)
	}
}
