// Package main is the entry point of the application
package main

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (app *application) routes() http.Handler {
	r := mux.NewRouter()

	r.Use(app.recoverPanic)
	r.Use(app.logRequest)

	r.HandleFunc("/health", app.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", app.handleWebSocket).Methods(http.MethodGet)
	r.Handle("/metrics", app.Metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{key}", app.handleSession).Methods(http.MethodGet)

	return r
}
