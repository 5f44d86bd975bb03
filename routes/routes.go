package routes

import (
	"net/http"

	"github.com/aidenappl/monitor-trends/db"
	"github.com/aidenappl/monitor-trends/middleware"
	"github.com/aidenappl/monitor-trends/responder"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register mounts every route on r
func Register(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware)

	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// V1 API routes (with auth middleware)
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(middleware.AuthMiddleware)

	v1.HandleFunc("/organizations/{org}/events-trends", TrendsHandler).Methods(http.MethodGet)
}

// HealthHandler handles GET /health
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	if db.Conn == nil {
		responder.Error(w, http.StatusServiceUnavailable, "database not connected")
		return
	}
	if err := db.Conn.Ping(r.Context()); err != nil {
		responder.ErrorWithCause(w, http.StatusServiceUnavailable, "database unavailable", err)
		return
	}
	responder.New(w, map[string]string{"status": "ok"})
}
