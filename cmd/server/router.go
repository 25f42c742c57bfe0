package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	dochandler "signet/internal/document/handler"
	docmetrics "signet/internal/document/metrics"
	"signet/internal/document/query"
	"signet/internal/document/service"
	"signet/internal/document/store"
	"signet/internal/identity"
	jwttoken "signet/internal/jwt_token"
	payloadpkg "signet/internal/payload"
	payloadhandler "signet/internal/payload/handler"
	"signet/internal/platform/config"
	httpmetrics "signet/internal/platform/metrics"
	"signet/pkg/platform/httputil"
	"signet/pkg/platform/middleware/auth"
	"signet/pkg/platform/middleware/request"
	"signet/pkg/platform/middleware/requesttime"
)

const healthCheckTimeout = 2 * time.Second

func newRouter(cfg *config.Config, log *slog.Logger, deps *backends) (http.Handler, error) {
	documents := store.New(deps.kv)
	authorizer := identity.NewContextAuthorizer()

	policy := service.ReregisterReject
	if cfg.Store.AllowReregister {
		policy = service.ReregisterOverwrite
	}
	workflow, err := service.New(documents, authorizer, deps.minter,
		service.WithLogger(log),
		service.WithMetrics(docmetrics.New(prometheus.DefaultRegisterer)),
		service.WithReregisterPolicy(policy),
		service.WithMintTimeout(cfg.MintTimeout()),
	)
	if err != nil {
		return nil, err
	}
	queries, err := query.New(documents, query.WithLogger(log))
	if err != nil {
		return nil, err
	}
	payloads := payloadpkg.NewService(deps.payloads, queries, authorizer, log)

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(httpmetrics.New(prometheus.DefaultRegisterer).Middleware)

	r.Get("/healthz", healthHandler(deps.health))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(jwttoken.NewJWTServiceAdapter(jwtService), log))
		dochandler.New(workflow, queries, log).Register(r)
		payloadhandler.New(payloads, cfg.Payload.MaxBytes, log).Register(r)
	})
	return r, nil
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks []healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: map[string]string{}}
		status := http.StatusOK
		for _, hc := range checks {
			if err := hc.check(ctx); err != nil {
				resp.Checks[hc.name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[hc.name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
