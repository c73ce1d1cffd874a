package api

import (
	"net/http"

	"github.com/aperture-photos/aperture/internal/finalize"
	"github.com/aperture-photos/aperture/internal/health"
	"github.com/aperture-photos/aperture/internal/intent"
)

type Config struct {
	Intent    *intent.Service
	Finalize  *finalize.Service
	Health    *health.Checker
	JWTSecret string
}

type Router struct {
	mux      *http.ServeMux
	intent   *intent.Service
	finalize *finalize.Service
}

func NewRouter(cfg *Config) *Router {
	rt := &Router{
		mux:      http.NewServeMux(),
		intent:   cfg.Intent,
		finalize: cfg.Finalize,
	}

	auth := AuthMiddleware(cfg.JWTSecret)

	rt.mux.Handle("POST /v1/uploads/intent", auth(http.HandlerFunc(rt.handleUploadIntent)))
	rt.mux.Handle("POST /v1/uploads/finalize", auth(http.HandlerFunc(rt.handleFinalize)))

	rt.mux.HandleFunc("GET /health/live", health.LivenessHandler())
	rt.mux.HandleFunc("GET /health/ready", health.ReadinessHandler(cfg.Health))
	rt.mux.HandleFunc("GET /health", health.ReadinessHandler(cfg.Health))

	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}
