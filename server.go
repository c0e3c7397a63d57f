package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes builds the router and wraps it in the middleware chain. CORS sits
// outermost so preflight requests are never rate limited.
func (s *AppState) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	s.addMonitoringRoutes(r)

	var h http.Handler = r
	if s.limiter != nil {
		h = s.limiter.Middleware(s.Log)(h)
	}
	h = loggingMiddleware(s.Log)(h)
	h = requestIDMiddleware(h)
	return corsMiddleware(h)
}

func newHTTPServer(s *AppState) *http.Server {
	return &http.Server{
		Handler:      s.Routes(),
		Addr:         s.Config.Addr(),
		WriteTimeout: s.Config.WriteTimeout,
		ReadTimeout:  s.Config.ReadTimeout,
	}
}
